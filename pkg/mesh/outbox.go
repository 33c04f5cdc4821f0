package mesh

import (
	"sync"

	"github.com/bft-labs/gracehost/pkg/ipc"
)

// outbox delivers envelopes in FIFO order from its own goroutine. The
// coordinator keeps one per node; a client keeps one for its handlers.
// push never blocks.
type outbox struct {
	deliver func(ipc.Envelope)

	mu     sync.Mutex
	queue  []ipc.Envelope
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOutbox(deliver func(ipc.Envelope)) *outbox {
	o := &outbox{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *outbox) push(e ipc.Envelope) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, e)
	o.mu.Unlock()
	o.signal()
	return true
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 {
			if o.closed {
				o.mu.Unlock()
				return
			}
			o.mu.Unlock()
			<-o.wake
			o.mu.Lock()
		}
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		for _, e := range batch {
			o.deliver(e)
		}
	}
}

// close stops accepting envelopes; queued ones are still delivered.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

// Package mesh provides channel-based messaging between the processes of a
// cluster.
//
// The Master (or a Singleton) runs the Coordinator, which owns the node
// directory and the subscription table. Workers run a Client that forwards
// joins, leaves and sends over their upstream channel and receives
// deliveries back. Every send is fanned out to all nodes subscribed to the
// channel, the sender included, and messages from one sender on one channel
// arrive in the order they were sent.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/google/uuid"
)

// Message is a delivered mesh message.
type Message struct {
	Channel string
	From    string
	Data    json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: channel %s: %v", domain.ErrInvalidMessage, m.Channel, err)
	}
	return nil
}

// Handler receives messages on a channel.
type Handler func(Message)

// Network is the mesh as seen by one process.
type Network interface {
	// ID is this process's node id.
	ID() string
	Join(ctx context.Context, channel string) error
	Leave(ctx context.Context, channel string) error
	// Send publishes data to every node subscribed to channel. data is
	// JSON-encoded unless it already is a json.RawMessage.
	Send(ctx context.Context, channel string, data interface{}) error
	// On adds a local handler for messages delivered on channel.
	On(channel string, h Handler)
	// EachNode calls fn once per directory entry, in id order.
	EachNode(ctx context.Context, fn func(domain.MeshNode)) error
	Close() error
}

// Observer is notified of mesh traffic.
type Observer interface {
	MessageSent(channel string)
	MessageDelivered(channel string)
}

type nopObserver struct{}

func (nopObserver) MessageSent(string)      {}
func (nopObserver) MessageDelivered(string) {}

// Option configures a Coordinator or Client.
type Option func(*options)

type options struct {
	id       string
	address  string
	logger   log.Logger
	observer Observer
	onPanic  func(error)
}

// WithID sets the node id. The default is a random UUID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithAddress sets the address published in the directory.
func WithAddress(addr string) Option {
	return func(o *options) { o.address = addr }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver sets the traffic observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithPanicHandler receives panics raised by message handlers.
func WithPanicHandler(fn func(error)) Option {
	return func(o *options) { o.onPanic = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		id:       uuid.NewString(),
		address:  fmt.Sprintf("pid:%d", os.Getpid()),
		logger:   log.NewNoopLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// handlerSet holds local handlers by channel.
type handlerSet struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	observer Observer
	logger   log.Logger
	onPanic  func(error)
}

func newHandlerSet(o options) *handlerSet {
	return &handlerSet{
		handlers: make(map[string][]Handler),
		observer: o.observer,
		logger:   o.logger,
		onPanic:  o.onPanic,
	}
}

func (s *handlerSet) add(channel string, h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = append(s.handlers[channel], h)
}

func (s *handlerSet) dispatch(m Message) {
	s.mu.RLock()
	hs := append([]Handler(nil), s.handlers[m.Channel]...)
	s.mu.RUnlock()

	s.observer.MessageDelivered(m.Channel)
	for _, h := range hs {
		s.call(h, m)
	}
}

func (s *handlerSet) call(h Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			err := domain.Recovered(r)
			s.logger.Error("mesh handler panicked",
				log.String("channel", m.Channel),
				log.Err(err))
			if s.onPanic != nil {
				s.onPanic(err)
			}
		}
	}()
	h(m)
}

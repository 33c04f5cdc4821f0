package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/log"
)

// hello is the payload of a process.hello envelope.
type hello struct {
	Address string `json:"address"`
}

type member struct {
	node domain.MeshNode
	out  *outbox
}

// Coordinator owns the directory. It is the mesh Network of the Master or
// Singleton process and serves the upstream channels of workers.
type Coordinator struct {
	opts     options
	logger   log.Logger
	handlers *handlerSet

	mu      sync.Mutex
	members map[string]*member
	closed  bool
}

var _ Network = (*Coordinator)(nil)

// NewCoordinator creates a coordinator whose own node is already in the
// directory.
func NewCoordinator(opts ...Option) *Coordinator {
	o := buildOptions(opts)
	c := &Coordinator{
		opts:     o,
		logger:   o.logger,
		handlers: newHandlerSet(o),
		members:  make(map[string]*member),
	}
	c.members[o.id] = &member{
		node: domain.MeshNode{ID: o.id, Address: o.address},
		out: newOutbox(func(e ipc.Envelope) {
			c.handlers.dispatch(Message{Channel: e.Channel, From: e.From, Data: e.Data})
		}),
	}
	return c
}

// ID implements Network.
func (c *Coordinator) ID() string { return c.opts.id }

// Join implements Network.
func (c *Coordinator) Join(ctx context.Context, channel string) error {
	return c.join(c.opts.id, channel)
}

// Leave implements Network.
func (c *Coordinator) Leave(ctx context.Context, channel string) error {
	return c.leave(c.opts.id, channel)
}

// Send implements Network.
func (c *Coordinator) Send(ctx context.Context, channel string, data interface{}) error {
	raw, err := ipc.Marshal(data)
	if err != nil {
		return err
	}
	return c.fanout(c.opts.id, channel, raw)
}

// On implements Network.
func (c *Coordinator) On(channel string, h Handler) {
	c.handlers.add(channel, h)
}

// EachNode implements Network.
func (c *Coordinator) EachNode(ctx context.Context, fn func(domain.MeshNode)) error {
	nodes := c.Nodes()
	for _, id := range domain.SortedNodeIDs(nodes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(nodes[id])
	}
	return nil
}

// Nodes returns a snapshot of the directory.
func (c *Coordinator) Nodes() map[string]domain.MeshNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() map[string]domain.MeshNode {
	out := make(map[string]domain.MeshNode, len(c.members))
	for id, m := range c.members {
		n := m.node
		n.Channels = append([]string(nil), m.node.Channels...)
		out[id] = n
	}
	return out
}

func (c *Coordinator) join(id, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	m, ok := c.members[id]
	if !ok {
		return fmt.Errorf("%w: node %s not attached", domain.ErrInvalidMessage, id)
	}
	if !m.node.Subscribed(channel) {
		m.node.Channels = append(m.node.Channels, channel)
		sort.Strings(m.node.Channels)
	}
	c.logger.Debug("mesh join", log.String("node", id), log.String("channel", channel))
	return nil
}

func (c *Coordinator) leave(id, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	m, ok := c.members[id]
	if !ok {
		return fmt.Errorf("%w: node %s not attached", domain.ErrInvalidMessage, id)
	}
	kept := m.node.Channels[:0]
	for _, ch := range m.node.Channels {
		if ch != channel {
			kept = append(kept, ch)
		}
	}
	m.node.Channels = kept
	c.logger.Debug("mesh leave", log.String("node", id), log.String("channel", channel))
	return nil
}

// fanout queues a delivery to every subscriber. Queuing happens under the
// directory lock so concurrent senders cannot reorder one another's
// messages within a node's outbox.
func (c *Coordinator) fanout(from, channel string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}

	c.opts.observer.MessageSent(channel)
	e := ipc.Envelope{Type: ipc.TypeMeshDeliver, From: from, Channel: channel, Data: data}
	for _, m := range c.members {
		if m.node.Subscribed(channel) {
			m.out.push(e)
		}
	}
	return nil
}

// Attach adds a remote node reachable over conn and returns the handler for
// the envelopes that node sends. The handler must be fed from a single
// goroutine, normally an ipc.Mux serving conn.
func (c *Coordinator) Attach(id, address string, conn *ipc.Conn) (ipc.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrClosed
	}
	if old, ok := c.members[id]; ok {
		old.out.close()
	}
	c.members[id] = &member{
		node: domain.MeshNode{ID: id, Address: address},
		out: newOutbox(func(e ipc.Envelope) {
			if err := conn.Send(e); err != nil {
				c.logger.Warn("mesh delivery failed",
					log.String("node", id),
					log.String("type", string(e.Type)),
					log.Err(err))
			}
		}),
	}
	c.logger.Info("mesh node attached", log.String("node", id), log.String("address", address))
	return func(e ipc.Envelope) { c.handle(id, e) }, nil
}

// Detach removes a node and its subscriptions.
func (c *Coordinator) Detach(id string) {
	if id == c.opts.id {
		return
	}
	c.mu.Lock()
	m, ok := c.members[id]
	delete(c.members, id)
	c.mu.Unlock()
	if ok {
		m.out.close()
		c.logger.Info("mesh node detached", log.String("node", id))
	}
}

func (c *Coordinator) handle(id string, e ipc.Envelope) {
	var err error
	switch e.Type {
	case ipc.TypeMeshJoin:
		err = c.join(id, e.Channel)
	case ipc.TypeMeshLeave:
		err = c.leave(id, e.Channel)
	case ipc.TypeMeshSend:
		err = c.fanout(id, e.Channel, e.Data)
	case ipc.TypeMeshNodesRequest:
		c.mu.Lock()
		m, ok := c.members[id]
		if ok {
			m.out.push(ipc.Envelope{Type: ipc.TypeMeshNodes, ID: e.ID, Nodes: c.snapshotLocked()})
		}
		c.mu.Unlock()
	default:
		err = fmt.Errorf("%w: %s from node %s", domain.ErrUnknownMessage, e.Type, id)
	}
	if err != nil {
		c.logger.Warn("mesh message rejected", log.String("node", id), log.Err(err))
	}
}

// Serve runs a worker's upstream channel until it closes: it waits for the
// worker's hello, attaches the node, dispatches its mesh traffic and
// detaches it on return.
func (c *Coordinator) Serve(ctx context.Context, conn *ipc.Conn) error {
	mux := ipc.NewMux(conn, c.logger)

	var mu sync.Mutex
	var nodeID string
	var meshHandler ipc.Handler

	mux.Handle(ipc.CategoryProcess, func(e ipc.Envelope) {
		if e.Type != ipc.TypeProcessHello {
			return
		}
		var h hello
		if len(e.Data) > 0 {
			if err := json.Unmarshal(e.Data, &h); err != nil {
				c.logger.Warn("bad hello payload", log.Err(err))
			}
		}
		fn, err := c.Attach(e.From, h.Address, conn)
		if err != nil {
			c.logger.Warn("attach failed", log.String("node", e.From), log.Err(err))
			return
		}
		mu.Lock()
		nodeID, meshHandler = e.From, fn
		mu.Unlock()
	})
	mux.Handle(ipc.CategoryMesh, func(e ipc.Envelope) {
		mu.Lock()
		fn := meshHandler
		mu.Unlock()
		if fn == nil {
			c.logger.Warn("mesh message before hello", log.String("type", string(e.Type)))
			return
		}
		fn(e)
	})

	err := mux.Serve(ctx)

	mu.Lock()
	id := nodeID
	mu.Unlock()
	if id != "" {
		c.Detach(id)
	}
	return err
}

// Close stops all deliveries. Queued messages are still handed to their
// outboxes' targets.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, m := range c.members {
		m.out.close()
	}
	return nil
}

package mesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/gracehost/internal/domain"
	"github.com/bft-labs/gracehost/pkg/ipc"
	"github.com/bft-labs/gracehost/pkg/log"
	"github.com/google/uuid"
)

// Client is the mesh Network of a worker. Every operation is forwarded to
// the coordinator over the upstream channel.
type Client struct {
	opts     options
	conn     *ipc.Conn
	logger   log.Logger
	handlers *handlerSet
	inbox    *outbox

	mu      sync.Mutex
	closed  bool
	pending map[string]chan nodesReply
}

type nodesReply struct {
	nodes map[string]domain.MeshNode
	err   error
}

var _ Network = (*Client)(nil)

// NewClient introduces this node on conn. Envelopes of category mesh read
// from conn must be passed to Handle. Handlers run on a separate goroutine
// so they may call back into the client. Close the client once conn stops
// being read.
func NewClient(conn *ipc.Conn, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	c := &Client{
		opts:     o,
		conn:     conn,
		logger:   o.logger,
		handlers: newHandlerSet(o),
		pending:  make(map[string]chan nodesReply),
	}
	c.inbox = newOutbox(func(e ipc.Envelope) {
		c.handlers.dispatch(Message{Channel: e.Channel, From: e.From, Data: e.Data})
	})

	data, err := ipc.Marshal(hello{Address: o.address})
	if err != nil {
		return nil, err
	}
	if err := conn.Send(ipc.Envelope{Type: ipc.TypeProcessHello, From: o.id, Data: data}); err != nil {
		c.inbox.close()
		return nil, err
	}
	return c, nil
}

// ID implements Network.
func (c *Client) ID() string { return c.opts.id }

// Join implements Network.
func (c *Client) Join(ctx context.Context, channel string) error {
	return c.conn.Send(ipc.Envelope{Type: ipc.TypeMeshJoin, Channel: channel})
}

// Leave implements Network.
func (c *Client) Leave(ctx context.Context, channel string) error {
	return c.conn.Send(ipc.Envelope{Type: ipc.TypeMeshLeave, Channel: channel})
}

// Send implements Network.
func (c *Client) Send(ctx context.Context, channel string, data interface{}) error {
	raw, err := ipc.Marshal(data)
	if err != nil {
		return err
	}
	if err := c.conn.Send(ipc.Envelope{Type: ipc.TypeMeshSend, Channel: channel, Data: raw}); err != nil {
		return err
	}
	c.opts.observer.MessageSent(channel)
	return nil
}

// On implements Network.
func (c *Client) On(channel string, h Handler) {
	c.handlers.add(channel, h)
}

// EachNode requests a directory snapshot and calls fn per entry.
func (c *Client) EachNode(ctx context.Context, fn func(domain.MeshNode)) error {
	id := uuid.NewString()
	ch := make(chan nodesReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.conn.Send(ipc.Envelope{Type: ipc.TypeMeshNodesRequest, ID: id}); err != nil {
		return err
	}

	select {
	case reply := <-ch:
		if reply.err != nil {
			return reply.err
		}
		for _, nid := range domain.SortedNodeIDs(reply.nodes) {
			fn(reply.nodes[nid])
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle consumes a mesh envelope from the upstream channel.
func (c *Client) Handle(e ipc.Envelope) {
	switch e.Type {
	case ipc.TypeMeshDeliver:
		c.inbox.push(e)
	case ipc.TypeMeshNodes:
		c.mu.Lock()
		ch, ok := c.pending[e.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- nodesReply{nodes: e.Nodes}:
			default:
			}
		}
	default:
		c.logger.Warn("unexpected mesh message", log.String("type", string(e.Type)))
	}
}

// Close closes the upstream channel. Pending EachNode calls fail with
// domain.ErrClosed and queued deliveries are still handed to handlers.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		for id, ch := range c.pending {
			select {
			case ch <- nodesReply{err: errClientClosed}:
			default:
			}
			delete(c.pending, id)
		}
		c.inbox.close()
	}
	c.mu.Unlock()
	return c.conn.Close()
}

var errClientClosed = fmt.Errorf("%w: mesh client", domain.ErrClosed)

package ipc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bft-labs/gracehost/pkg/log"
)

// Handler processes one envelope.
type Handler func(Envelope)

// Mux reads a Conn and dispatches envelopes by category, one at a time and
// in arrival order.
type Mux struct {
	conn   *Conn
	logger log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux creates a mux over conn.
func NewMux(conn *Conn, logger log.Logger) *Mux {
	logger = log.OrNoop(logger)
	return &Mux{conn: conn, logger: logger, handlers: map[string]Handler{}}
}

// Handle routes every envelope of category to h, replacing any previous
// handler.
func (m *Mux) Handle(category string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[category] = h
}

// Serve dispatches until the channel closes or ctx is done. Malformed
// messages are logged and skipped. It returns nil on a clean close.
func (m *Mux) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		m.conn.Close()
	})
	defer stop()

	for {
		e, err := m.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if IsMessageError(err) {
				m.logger.Warn("dropping ipc message", log.Err(err))
				continue
			}
			return err
		}

		m.mu.RLock()
		h, ok := m.handlers[e.Type.Category()]
		m.mu.RUnlock()
		if !ok {
			m.logger.Debug("no handler for ipc message", log.String("type", string(e.Type)))
			continue
		}
		h(e)
	}
}

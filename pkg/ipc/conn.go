package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/gracehost/internal/domain"
)

// maxLineBytes bounds a single encoded envelope.
const maxLineBytes = 16 << 20

// Conn is one end of a bidirectional process channel. Send is safe for
// concurrent use; Receive must be called from a single goroutine.
type Conn struct {
	scanner *bufio.Scanner

	wmu sync.Mutex
	w   io.Writer

	closers []io.Closer
	closed  atomic.Bool
}

// NewConn wraps a reader/writer pair. closers are closed by Close.
func NewConn(r io.Reader, w io.Writer, closers ...io.Closer) *Conn {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return &Conn{scanner: sc, w: w, closers: closers}
}

// Pipe returns two connected in-process ends.
func Pipe() (*Conn, *Conn) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := NewConn(ar, aw, ar, aw)
	b := NewConn(br, bw, br, bw)
	return a, b
}

// Send validates and writes one envelope.
func (c *Conn) Send(e Envelope) error {
	if c.closed.Load() {
		return domain.ErrClosed
	}
	if err := e.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		if isClosed(err) {
			return domain.ErrClosed
		}
		return err
	}
	return nil
}

// Receive reads the next envelope. A message that decodes but fails
// validation returns an error wrapping ErrInvalidMessage or
// ErrUnknownMessage and leaves the channel usable. io.EOF is returned once
// the peer has closed.
func (c *Conn) Receive() (Envelope, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if err == nil || isClosed(err) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, err
	}

	var e Envelope
	if err := json.Unmarshal(c.scanner.Bytes(), &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

// Close closes the underlying streams. It is idempotent.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && !isClosed(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF)
}

// IsMessageError reports whether err only concerns one malformed message.
func IsMessageError(err error) bool {
	return errors.Is(err, domain.ErrInvalidMessage) || errors.Is(err, domain.ErrUnknownMessage)
}

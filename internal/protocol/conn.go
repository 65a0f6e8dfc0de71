package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrNotConnected is returned when writing or reading before a transport
// has been established.
var ErrNotConnected = errors.New("not connected")

// Dialer establishes a new transport.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Conn owns the current transport. The transport can be replaced while
// readers and writers are in flight: the lock only guards the handle
// itself and is never held across I/O.
type Conn struct {
	dial Dialer
	max  int

	mu      sync.Mutex
	current *handle

	// writeMu serializes frames so they are not interleaved.
	writeMu sync.Mutex
}

type handle struct {
	stream io.ReadWriteCloser
	reader *Reader
}

// NewConn constructs an unconnected Conn. maxMessageLength bounds incoming
// frames; zero uses the default.
func NewConn(dial Dialer, maxMessageLength int) *Conn {
	return &Conn{dial: dial, max: maxMessageLength}
}

// Connect dials a new transport and installs it, closing any previous one.
func (c *Conn) Connect(ctx context.Context) error {
	stream, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if old := c.swap(&handle{stream: stream, reader: NewReader(stream, c.max)}); old != nil {
		_ = old.stream.Close()
	}
	return nil
}

// Connected reports whether a transport is installed.
func (c *Conn) Connected() bool {
	return c.get() != nil
}

func (c *Conn) swap(h *handle) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.current
	c.current = h
	return old
}

func (c *Conn) get() *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Write sends one message on the current transport.
func (c *Conn) Write(msg Message) error {
	h := c.get()
	if h == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteMessage(h.stream, msg)
}

// Read receives the next message from the current transport. See
// Reader.Read for the meaning of its results.
func (c *Conn) Read() (Message, error) {
	h := c.get()
	if h == nil {
		return nil, ErrNotConnected
	}
	return h.reader.Read()
}

// Close closes and removes the current transport.
func (c *Conn) Close() error {
	if old := c.swap(nil); old != nil {
		return old.stream.Close()
	}
	return nil
}

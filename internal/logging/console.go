package logging

import (
	"bytes"
	"io"
	"sync"
)

// Console buffers formatted log text and writes it to the host console on
// Flush. Close flushes whatever is left.
type Console struct {
	mu  sync.Mutex
	buf bytes.Buffer
	out io.Writer
}

// NewConsole returns a Console draining into out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Write implements io.Writer. It only buffers.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Flush writes the buffered text to the console and clears the buffer.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() == 0 {
		return nil
	}
	_, err := c.buf.WriteTo(c.out)
	c.buf.Reset()
	return err
}

// Buffered returns the number of bytes waiting for Flush.
func (c *Console) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// Close flushes any remaining text.
func (c *Console) Close() error {
	return c.Flush()
}

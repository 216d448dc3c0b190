package utils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.einride.tech/can"
)

// ErrCANClosed is returned by readers whose connection has gone away.
var ErrCANClosed = errors.New("can: connection closed")

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// CandumpWriter records frames in candump log format
// "(seconds.micros) iface ID#DATA", one per line.
type CandumpWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	iface  string
	now    func() time.Time
}

func NewCandumpWriter(w io.WriteCloser, iface string) *CandumpWriter {
	return &CandumpWriter{w: bufio.NewWriter(w), closer: w, iface: iface, now: time.Now}
}

func (c *CandumpWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	_, err := fmt.Fprintf(c.w, "(%d.%06d) %s %s\n", ts.Unix(), ts.Nanosecond()/1000, c.iface, frame.String())
	return err
}

func (c *CandumpWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Flush(); err != nil {
		_ = c.closer.Close()
		return err
	}
	return c.closer.Close()
}

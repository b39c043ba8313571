// Package conn wraps one stream socket carrying newline-delimited protocol
// records.
package conn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lrnzgll/subprime-shutdown/pkg/protocol"
)

var ErrBroken = errors.New("connection broken")

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultMaxLine      = 64 << 10
)

type Options struct {
	WriteTimeout time.Duration
	MaxLine      int
}

type readResult struct {
	line []byte
	err  error
}

// Conn is safe for one reader and any number of concurrent senders.
type Conn struct {
	nc   net.Conn
	opts Options

	in      chan readResult
	done    chan struct{}
	closing chan struct{}

	writeMu sync.Mutex

	mu        sync.Mutex
	broken    bool
	cause     error
	closeOnce sync.Once
}

func New(nc net.Conn, opts Options) *Conn {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	c := &Conn{
		nc:      nc,
		opts:    opts,
		in:      make(chan readResult, 16),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.in)

	r := bufio.NewReaderSize(c.nc, 4096)
	for {
		line, err := readLine(r, c.opts.MaxLine)
		select {
		case c.in <- readResult{line: line, err: err}:
		case <-c.closing:
			return
		}
		if err != nil {
			return
		}
	}
}

func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > max {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", protocol.ErrMalformedMessage, max)
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// Send writes one record. There is exactly one attempt; a failed write leaves
// the connection broken.
func (c *Conn) Send(m protocol.Message) error {
	if c.IsBroken() {
		return ErrBroken
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.nc.Write(b); err != nil {
		err = fmt.Errorf("send %s: %w", m.Action, err)
		c.markBroken(err)
		return err
	}
	return nil
}

// TryReceive waits up to timeout for one record. It returns nil, nil when
// nothing arrived or the line was blank.
func (c *Conn) TryReceive(timeout time.Duration) (*protocol.Message, error) {
	if c.IsBroken() {
		return nil, ErrBroken
	}

	var res readResult
	var ok bool
	if timeout <= 0 {
		select {
		case res, ok = <-c.in:
		default:
			return nil, nil
		}
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case res, ok = <-c.in:
		case <-t.C:
			return nil, nil
		}
	}

	if !ok {
		c.markBroken(ErrBroken)
		return nil, ErrBroken
	}
	if res.err != nil {
		err := fmt.Errorf("receive: %w", res.err)
		c.markBroken(err)
		return nil, err
	}
	if len(bytes.TrimSpace(res.line)) == 0 {
		return nil, nil
	}
	m, err := protocol.Decode(res.line)
	if err != nil {
		c.markBroken(err)
		return nil, err
	}
	return &m, nil
}

func (c *Conn) IsBroken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// Err reports why the connection broke, if it did.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Conn) markBroken(err error) {
	c.mu.Lock()
	if !c.broken {
		c.broken = true
		c.cause = err
	}
	c.mu.Unlock()
	c.Close()
}

// Close marks the connection broken and closes the socket. Calling it more
// than once is harmless.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if !c.broken {
			c.broken = true
			c.cause = net.ErrClosed
		}
		c.mu.Unlock()
		close(c.closing)
		err = c.nc.Close()
	})
	return err
}

// Done is closed once the socket stops delivering data.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

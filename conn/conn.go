package conn

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// Conn wraps one client transport. The read pump decodes frames from the
// transport, the write pump drains the out queue back to it. Delivered
// publishes sit in the bounded pending queue until the client issues RECV.
type Conn struct {
	ID        string
	transport net.Conn

	// out carries serialized response frames to the write pump. Closed by
	// Close to stop the pump.
	out chan []byte

	// pending holds payloads fanned in by the dispatcher (and self SEND).
	// Never closed; drained only by TryRecv.
	pending chan []byte

	ConnectedAt time.Time
	closed      atomic.Bool
	delivered   atomic.Int64
	dropped     atomic.Int64
	cancel      context.CancelFunc
}

func New(id string, transport net.Conn, queueSize, sendBufSize int, cancel context.CancelFunc) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	if sendBufSize <= 0 {
		sendBufSize = 32
	}
	return &Conn{
		ID:          id,
		transport:   transport,
		out:         make(chan []byte, sendBufSize),
		pending:     make(chan []byte, queueSize),
		ConnectedAt: time.Now(),
		cancel:      cancel,
	}
}

// Deliver enqueues a published payload for later RECV. The payload is copied;
// callers may reuse the backing slice. When the queue is full the newest
// message is dropped and counted, never blocking the publisher.
func (c *Conn) Deliver(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	msg := make([]byte, len(payload))
	copy(msg, payload)

	select {
	case c.pending <- msg:
		c.delivered.Add(1)
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// TryRecv pops one pending message without blocking.
func (c *Conn) TryRecv() ([]byte, bool) {
	select {
	case msg := <-c.pending:
		return msg, true
	default:
		return nil, false
	}
}

// WriteFrame hands a serialized frame to the write pump.
func (c *Conn) WriteFrame(frame []byte) (err error) {
	if c.closed.Load() {
		return ErrClosed
	}

	// protect against send on closed channel race
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()

	select {
	case c.out <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Out exposes the frame queue to the write pump.
func (c *Conn) Out() <-chan []byte {
	return c.out
}

func (c *Conn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.out)
		if c.cancel != nil {
			c.cancel()
		}
		c.transport.Close()
	}
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) Pending() int {
	return len(c.pending)
}

func (c *Conn) Delivered() int64 {
	return c.delivered.Load()
}

func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Conn) RemoteAddr() string {
	if addr := c.transport.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

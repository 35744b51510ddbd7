package hub

import (
	"errors"
	"sync/atomic"

	"pubsubd/conn"
	"pubsubd/protocol"
	"pubsubd/registry"

	"github.com/rs/zerolog"
)

// Hub ties the registry and dispatcher together and executes decoded
// commands on behalf of a connection's read pump.
type Hub struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
	log        zerolog.Logger
	publishes  atomic.Int64
}

func New(reg *registry.Registry, log zerolog.Logger) *Hub {
	return &Hub{
		registry:   reg,
		dispatcher: NewDispatcher(),
		log:        log,
	}
}

func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Attach registers a freshly accepted connection. Returns false when the
// server is at capacity.
func (h *Hub) Attach(c *conn.Conn) bool {
	if !h.registry.Register(c) {
		return false
	}
	h.log.Debug().Str("conn", c.ID).Str("addr", c.RemoteAddr()).Msg("connection attached")
	return true
}

// Detach runs full teardown for a connection: registry cleanup first, so no
// publish snapshot taken afterwards can include it, then transport close.
// Idempotent; the read and write pumps may race into it on disconnect.
func (h *Hub) Detach(c *conn.Conn) {
	h.registry.RemoveConnection(c.ID)
	c.Close()
	h.log.Debug().Str("conn", c.ID).Msg("connection detached")
}

// HandleFrame executes one inbound frame. The returned bool reports whether
// the connection should stay open; only DISCONNECT flips it.
func (h *Hub) HandleFrame(c *conn.Conn, line []byte) bool {
	cmd, err := protocol.Parse(line)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyFrame) {
			return true
		}
		h.reply(c, protocol.ErrLine(err.Error()))
		return true
	}
	defer protocol.ReleaseCommand(cmd)

	switch cmd.Verb {
	case protocol.VerbPing:
		h.reply(c, protocol.PongLine)

	case protocol.VerbSub:
		h.registry.Subscribe(c.ID, cmd.Channel)
		h.reply(c, protocol.OkLine)

	case protocol.VerbUnsub:
		h.registry.Unsubscribe(c.ID, cmd.Channel)
		h.reply(c, protocol.OkLine)

	case protocol.VerbPub:
		snapshot := h.registry.Snapshot(cmd.Channel)
		h.dispatcher.Dispatch(snapshot, cmd.Payload)
		h.publishes.Add(1)
		h.reply(c, protocol.OkCountLine(len(snapshot)))

	case protocol.VerbSend:
		// server-directed session message: lands in the sender's own queue
		c.Deliver(cmd.Payload)
		h.reply(c, protocol.OkLine)

	case protocol.VerbRecv:
		if msg, ok := c.TryRecv(); ok {
			h.reply(c, protocol.MessageLine(msg))
		} else {
			h.reply(c, protocol.EmptyLine)
		}

	case protocol.VerbDisconnect:
		return false
	}
	return true
}

func (h *Hub) reply(c *conn.Conn, frame []byte) {
	if err := c.WriteFrame(frame); err != nil && !errors.Is(err, conn.ErrClosed) {
		h.log.Warn().Str("conn", c.ID).Err(err).Msg("response dropped")
	}
}

func (h *Hub) Publishes() int64 {
	return h.publishes.Load()
}

// Stats aggregates broker-wide counters for the stats endpoint.
type Stats struct {
	Conns     int            `json:"conns"`
	Channels  map[string]int `json:"channels"`
	Publishes int64          `json:"publishes"`
	Delivered int64          `json:"delivered"`
	Dropped   int64          `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	s := Stats{
		Conns:     h.registry.ConnCount(),
		Channels:  h.registry.Stats(),
		Publishes: h.publishes.Load(),
	}
	for _, c := range h.registry.Conns() {
		s.Delivered += c.Delivered()
		s.Dropped += c.Dropped()
	}
	return s
}

// Shutdown closes every registered connection.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.Conns() {
		h.Detach(c)
	}
}

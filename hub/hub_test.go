package hub

import (
	"fmt"
	"net"
	"strings"
	"testing"

	"pubsubd/conn"
	"pubsubd/registry"

	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return New(registry.New(0), zerolog.Nop())
}

func makeConn(t *testing.T, h *Hub, id string, queueSize int) *conn.Conn {
	t.Helper()
	server, client := net.Pipe()
	c := conn.New(id, server, queueSize, 64, nil)
	if !h.Attach(c) {
		t.Fatalf("attach %s failed", id)
	}
	t.Cleanup(func() {
		c.Close()
		client.Close()
	})
	return c
}

// exec runs one frame and returns the response line, if any.
func exec(t *testing.T, h *Hub, c *conn.Conn, line string) (string, bool) {
	t.Helper()
	open := h.HandleFrame(c, []byte(line))
	select {
	case frame := <-c.Out():
		return strings.TrimSuffix(string(frame), "\n"), open
	default:
		return "", open
	}
}

func TestPing(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	resp, open := exec(t, h, c, "PING")
	if resp != "PONG" {
		t.Errorf("expected PONG, got %q", resp)
	}
	if !open {
		t.Error("connection should stay open")
	}
}

func TestPingIgnoresSubscriptionState(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	exec(t, h, c, "SUB news")
	if resp, _ := exec(t, h, c, "PING"); resp != "PONG" {
		t.Errorf("expected PONG regardless of subscriptions, got %q", resp)
	}
}

func TestSubUnsub(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	if resp, _ := exec(t, h, c, "SUB news"); resp != "OK" {
		t.Errorf("expected OK, got %q", resp)
	}
	if !h.Registry().IsSubscribed("a", "news") {
		t.Error("conn should be subscribed")
	}

	if resp, _ := exec(t, h, c, "UNSUB news"); resp != "OK" {
		t.Errorf("expected OK, got %q", resp)
	}
	if h.Registry().IsSubscribed("a", "news") {
		t.Error("conn should be unsubscribed")
	}

	// unsubscribing again is still a success
	if resp, _ := exec(t, h, c, "UNSUB news"); resp != "OK" {
		t.Errorf("expected OK for repeated unsub, got %q", resp)
	}
}

func TestPubDeliversToSubscriberOnly(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 16)
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB news")

	resp, _ := exec(t, h, b, "PUB news hello world")
	if resp != "OK 1" {
		t.Errorf("expected 'OK 1', got %q", resp)
	}

	if resp, _ := exec(t, h, a, "RECV"); resp != "hello world" {
		t.Errorf("expected delivered payload, got %q", resp)
	}
	if resp, _ := exec(t, h, b, "RECV"); resp != "EMPTY" {
		t.Errorf("non-subscriber should get EMPTY, got %q", resp)
	}
}

func TestPubNoSubscribers(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	resp, _ := exec(t, h, c, "PUB nowhere hello")
	if resp != "OK 0" {
		t.Errorf("publish to empty channel should be 'OK 0', got %q", resp)
	}
}

func TestUnsubscribeEffectiveImmediately(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 16)
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB news")
	exec(t, h, a, "UNSUB news")
	exec(t, h, b, "PUB news too late")

	if resp, _ := exec(t, h, a, "RECV"); resp != "EMPTY" {
		t.Errorf("expected EMPTY after unsubscribe, got %q", resp)
	}
}

func TestSendEchoesIntoOwnQueue(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	if resp, _ := exec(t, h, c, "SEND note to self"); resp != "OK" {
		t.Errorf("expected OK, got %q", resp)
	}
	if resp, _ := exec(t, h, c, "RECV"); resp != "note to self" {
		t.Errorf("expected echoed payload, got %q", resp)
	}
}

func TestRecvFIFO(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 16)
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB news")
	for i := 0; i < 3; i++ {
		exec(t, h, b, fmt.Sprintf("PUB news msg-%d", i))
	}
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("msg-%d", i)
		if resp, _ := exec(t, h, a, "RECV"); resp != want {
			t.Errorf("expected %q, got %q", want, resp)
		}
	}
}

func TestMalformedCommandKeepsConnOpen(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	resp, open := exec(t, h, c, "BOGUS stuff")
	if !strings.HasPrefix(resp, "ERR ") {
		t.Errorf("expected ERR response, got %q", resp)
	}
	if !open {
		t.Error("connection must stay open after a protocol error")
	}

	// still works afterwards
	if resp, _ := exec(t, h, c, "PING"); resp != "PONG" {
		t.Errorf("expected PONG after error, got %q", resp)
	}
}

func TestEmptyFrameIgnored(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	resp, open := exec(t, h, c, "")
	if resp != "" {
		t.Errorf("empty frame should produce no response, got %q", resp)
	}
	if !open {
		t.Error("connection should stay open")
	}
}

func TestDisconnect(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)

	resp, open := exec(t, h, c, "DISCONNECT")
	if resp != "" {
		t.Errorf("DISCONNECT should produce no response, got %q", resp)
	}
	if open {
		t.Error("DISCONNECT should close the connection")
	}
}

func TestDetachCleansUpSubscriptions(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 16)
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB solo")
	h.Detach(a)

	// a was the sole subscriber: the channel is gone
	if h.Registry().ChannelCount() != 0 {
		t.Errorf("expected 0 channels, got %d", h.Registry().ChannelCount())
	}
	if resp, _ := exec(t, h, b, "PUB solo anyone"); resp != "OK 0" {
		t.Errorf("expected 'OK 0' after sole subscriber left, got %q", resp)
	}
}

func TestDetachIdempotent(t *testing.T) {
	h := newTestHub()
	c := makeConn(t, h, "a", 16)
	exec(t, h, c, "SUB news")

	// read and write pumps may both trigger teardown
	h.Detach(c)
	h.Detach(c)

	if h.Registry().ConnCount() != 0 {
		t.Errorf("expected 0 conns, got %d", h.Registry().ConnCount())
	}
}

func TestBackpressureCounters(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 4) // capacity 4
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB firehose")

	attempted := 10
	for i := 0; i < attempted; i++ {
		resp, _ := exec(t, h, b, fmt.Sprintf("PUB firehose burst-%d", i))
		// the publisher never sees the drop
		if resp != "OK 1" {
			t.Errorf("expected 'OK 1', got %q", resp)
		}
	}

	if a.Delivered()+a.Dropped() != int64(attempted) {
		t.Errorf("delivered(%d) + dropped(%d) != attempted(%d)",
			a.Delivered(), a.Dropped(), attempted)
	}
	if a.Dropped() != int64(attempted-4) {
		t.Errorf("expected %d drops, got %d", attempted-4, a.Dropped())
	}
}

func TestSlowRecipientDoesNotAffectOthers(t *testing.T) {
	h := newTestHub()
	slow := makeConn(t, h, "slow", 1)
	fast := makeConn(t, h, "fast", 16)
	pub := makeConn(t, h, "pub", 16)

	exec(t, h, slow, "SUB mix")
	exec(t, h, fast, "SUB mix")

	for i := 0; i < 3; i++ {
		exec(t, h, pub, fmt.Sprintf("PUB mix m-%d", i))
	}

	if fast.Delivered() != 3 {
		t.Errorf("fast recipient should get all 3, got %d", fast.Delivered())
	}
	if slow.Delivered() != 1 || slow.Dropped() != 2 {
		t.Errorf("slow recipient should keep 1 and drop 2, got %d/%d",
			slow.Delivered(), slow.Dropped())
	}
}

func TestStats(t *testing.T) {
	h := newTestHub()
	a := makeConn(t, h, "a", 16)
	b := makeConn(t, h, "b", 16)

	exec(t, h, a, "SUB news")
	exec(t, h, b, "PUB news one")
	exec(t, h, b, "PUB news two")

	s := h.Stats()
	if s.Conns != 2 {
		t.Errorf("expected 2 conns, got %d", s.Conns)
	}
	if s.Channels["news"] != 1 {
		t.Errorf("expected 1 subscriber on news, got %d", s.Channels["news"])
	}
	if s.Publishes != 2 {
		t.Errorf("expected 2 publishes, got %d", s.Publishes)
	}
	if s.Delivered != 2 {
		t.Errorf("expected 2 delivered, got %d", s.Delivered)
	}
}

func TestAttachMaxConns(t *testing.T) {
	h := New(registry.New(1), zerolog.Nop())
	a := makeConn(t, h, "a", 16)
	_ = a

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	c := conn.New("b", server, 16, 16, nil)
	if h.Attach(c) {
		t.Error("attach beyond max_conns should fail")
	}
}

package hub

import "pubsubd/conn"

// Dispatcher fans a published payload out to a subscriber snapshot. Each
// recipient is handled independently: a full pending queue drops the message
// for that recipient only and never blocks the publisher or other recipients.
type Dispatcher struct{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch enqueues the payload into every subscriber's pending queue and
// returns how many accepted it. Drops are recorded on the recipient's own
// counter and are invisible at the publish call site.
func (d *Dispatcher) Dispatch(snapshot []*conn.Conn, payload []byte) int {
	delivered := 0
	for _, sub := range snapshot {
		if sub.Deliver(payload) {
			delivered++
		}
	}
	return delivered
}

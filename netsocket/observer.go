package netsocket

import "time"

// Observer receives accounting events from a Manager. Implementations are
// called on the poll goroutine and must not block.
type Observer interface {
	// BytesIn reports bytes read from a connection.
	BytesIn(n int)
	// BytesOut reports bytes written to a connection.
	BytesOut(n int)
	// Opened reports a newly registered connection.
	Opened()
	// Closed reports a connection released by the sweep and why.
	Closed(reason Removal)
	// Rejected reports a registration refused at the ceiling.
	Rejected()
	// PollCycle reports the duration of one DoSelect call.
	PollCycle(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) BytesIn(int)             {}
func (nopObserver) BytesOut(int)            {}
func (nopObserver) Opened()                 {}
func (nopObserver) Closed(Removal)          {}
func (nopObserver) Rejected()               {}
func (nopObserver) PollCycle(time.Duration) {}

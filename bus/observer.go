// Package bus tracks raw bus activity (the Observer) and runs the two-round
// priority arbitration contest (the Arbitrator) used to win the bus for a
// pending send.
package bus

import (
	"time"

	"github.com/mlanger/ebusgw/symbol"
)

// Clock abstracts the monotonic time source used for SYN-to-byte spacing,
// per the design note on parameterizing timing over an abstract capability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by the runtime's monotonic clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Observer watches every byte received from the bus and tracks SYN
// boundaries (the bus idle marker), exposing the timing and the last two
// bytes that the Arbitrator needs.
type Observer struct {
	clock Clock

	lastSynAt time.Time
	idle      bool // true immediately after a SYN, before the next byte

	master byte // byte observed immediately following the last SYN
	last   byte // most recently fed byte
}

// NewObserver returns an Observer using clock for timing.
func NewObserver(clock Clock) *Observer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Observer{clock: clock, idle: true}
}

// Feed records one bus byte. Call this for every byte received, in order,
// before consulting SinceLastSyn, LastMaster, or LastByte.
func (o *Observer) Feed(b byte) {
	now := o.clock.Now()
	if b == symbol.SYN {
		o.lastSynAt = now
		o.idle = true
		o.last = b
		return
	}
	if o.idle {
		o.master = b
	}
	o.idle = false
	o.last = b
}

// IsIdle reports whether the most recently fed byte was a SYN.
func (o *Observer) IsIdle() bool { return o.idle }

// SinceLastSyn returns the elapsed time since the last observed SYN. It
// returns 0 before any SYN has been observed.
func (o *Observer) SinceLastSyn() time.Duration {
	if o.lastSynAt.IsZero() {
		return 0
	}
	return o.clock.Now().Sub(o.lastSynAt)
}

// LastMaster returns the byte observed immediately after the most recent
// SYN (the current round's candidate address), mirroring the original
// firmware's "_master" bookkeeping field.
func (o *Observer) LastMaster() byte { return o.master }

// LastByte returns the most recently fed byte, mirroring the original
// firmware's "_byte" bookkeeping field.
func (o *Observer) LastByte() byte { return o.last }

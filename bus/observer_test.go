package bus

import (
	"testing"
	"time"

	"github.com/mlanger/ebusgw/symbol"
)

// stepClock returns a fixed, manually advanced time on each call.
type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestObserverTracksIdleAcrossSyn(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	obs := NewObserver(clock)

	if !obs.IsIdle() {
		t.Fatal("a fresh Observer should report idle")
	}

	obs.Feed(symbol.SYN)
	if !obs.IsIdle() {
		t.Fatal("Observer should stay idle immediately after a SYN")
	}

	obs.Feed(0x03)
	if obs.IsIdle() {
		t.Fatal("Observer should leave idle once a non-SYN byte follows")
	}
	if obs.LastMaster() != 0x03 {
		t.Fatalf("LastMaster() = %#02x, want 0x03", obs.LastMaster())
	}
	if obs.LastByte() != 0x03 {
		t.Fatalf("LastByte() = %#02x, want 0x03", obs.LastByte())
	}

	obs.Feed(0xAB)
	if obs.LastMaster() != 0x03 {
		t.Fatalf("LastMaster() after a further byte = %#02x, want unchanged 0x03", obs.LastMaster())
	}
	if obs.LastByte() != 0xAB {
		t.Fatalf("LastByte() = %#02x, want 0xAB", obs.LastByte())
	}
}

func TestObserverSinceLastSyn(t *testing.T) {
	clock := &stepClock{now: time.Unix(0, 0)}
	obs := NewObserver(clock)

	if obs.SinceLastSyn() != 0 {
		t.Fatalf("SinceLastSyn() before any SYN = %v, want 0", obs.SinceLastSyn())
	}

	obs.Feed(symbol.SYN)
	clock.advance(5 * time.Millisecond)
	if got := obs.SinceLastSyn(); got != 5*time.Millisecond {
		t.Fatalf("SinceLastSyn() = %v, want 5ms", got)
	}

	clock.advance(2 * time.Millisecond)
	obs.Feed(symbol.SYN)
	if got := obs.SinceLastSyn(); got != 0 {
		t.Fatalf("SinceLastSyn() right after a new SYN = %v, want 0", got)
	}
}

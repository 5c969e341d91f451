package ebusgw

import (
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mlanger/ebusgw/bus"
	"github.com/mlanger/ebusgw/engine"
	"github.com/mlanger/ebusgw/enhanced"
	"github.com/mlanger/ebusgw/metrics"
	"github.com/mlanger/ebusgw/queue"
	"github.com/mlanger/ebusgw/symbol"
)

// fakePort is an in-memory Port double: writes are recorded, reads are
// served from a preloaded script.
type fakePort struct {
	mu      sync.Mutex
	written []byte
	script  []byte
	pos     int
}

func (p *fakePort) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos >= len(p.script) {
		return 0, io.EOF
	}
	b := p.script[p.pos]
	p.pos++
	return b, nil
}

func (p *fakePort) WriteByte(b byte) error {
	p.mu.Lock()
	p.written = append(p.written, b)
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error { return nil }

func newTestAdapter(port Port) *Adapter {
	a := &Adapter{
		cfg:        Config{QueueCapacity: 16, OwnAddresses: []byte{0x03}},
		log:        logrus.New(),
		port:       port,
		observer:   bus.NewObserver(bus.SystemClock{}),
		arbitrator: bus.NewArbitrator(),
		claims:     queue.NewClaimRegistry(),
		clients:    &queue.ClientTable{},
		events:     queue.NewQueue(16),
		reg:        metrics.NewRegistry(prometheus.NewRegistry()),
	}
	a.machine = engine.NewMachine(0, busCapability{a})
	return a
}

func TestStartTransactionStagesClaimWithoutTouchingMachine(t *testing.T) {
	a := newTestAdapter(&fakePort{})

	if !a.StartTransaction(0, 0x03, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("StartTransaction should succeed on an unclaimed bus")
	}
	if holder, own := a.claims.Holder(); holder != 0 || own != 0x03 {
		t.Fatalf("Holder() = (%d, %#02x), want (0, 0x03)", holder, own)
	}
	// StartTransaction only stages the claim; the machine must not move
	// until the bus task's onByte picks the staged message up.
	if a.machine.State() != engine.MonitorBus {
		t.Fatalf("machine state = %s, want MonitorBus before any onByte call", a.machine.State())
	}
}

func TestStartTransactionRejectsConflictingClient(t *testing.T) {
	a := newTestAdapter(&fakePort{})

	if !a.StartTransaction(0, 0x03, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("first client's claim should succeed")
	}
	if a.StartTransaction(1, 0x07, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("second client's claim should be rejected")
	}

	select {
	case ev := <-a.events.Events():
		if ev.Tag != enhanced.EventErrorHost || ev.Data != enhanced.ErrFraming || ev.Target != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected an ERROR_HOST event for the rejected client")
	}
}

func TestOnByteStagesEnqueueAndWinsArbitration(t *testing.T) {
	port := &fakePort{}
	a := newTestAdapter(port)

	if !a.StartTransaction(0, 0x03, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("StartTransaction should succeed")
	}

	a.onByte(symbol.SYN) // bus task picks up the staged message, enqueues, claims, writes round-1 address
	if a.machine.State() != engine.Arbitration {
		t.Fatalf("machine state after staging = %s, want Arbitration", a.machine.State())
	}
	a.onByte(0x03) // round-1 echo: we won outright

	if a.machine.State() != engine.SendMessage {
		t.Fatalf("machine state = %s, want SendMessage", a.machine.State())
	}
	if len(port.written) != 2 || port.written[0] != 0x03 || port.written[1] != symbol.Broadcast {
		t.Fatalf("port.written = %#v, want [0x03 0xFE]", port.written)
	}
}

func TestCancelTransactionReleasesClaimAndResetsMachineOnNextByte(t *testing.T) {
	port := &fakePort{}
	a := newTestAdapter(port)

	if !a.StartTransaction(0, 0x03, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("StartTransaction should succeed")
	}
	a.onByte(symbol.SYN) // stage the message into the machine/arbitrator
	if a.machine.State() != engine.Arbitration {
		t.Fatalf("machine state = %s, want Arbitration", a.machine.State())
	}

	a.CancelTransaction(0)
	// Cancellation only flags the claim registry; Holder() still reports
	// the stale holder until the bus task's next onByte processes it.
	if holder, _ := a.claims.Holder(); holder != 0 {
		t.Fatalf("Holder() immediately after CancelTransaction = %d, want 0 (still pending)", holder)
	}

	a.onByte(0x01) // bus task observes the cancellation and resets

	if holder, _ := a.claims.Holder(); holder != queue.NoClient {
		t.Fatalf("Holder() after cancel is processed = %d, want NoClient", holder)
	}
	if a.machine.State() != engine.MonitorBus {
		t.Fatalf("machine state after cancel is processed = %s, want MonitorBus", a.machine.State())
	}
}

func TestCancelTransactionIgnoresNonHolder(t *testing.T) {
	a := newTestAdapter(&fakePort{})

	if !a.StartTransaction(0, 0x03, []byte{symbol.Broadcast, 0x00, 0x00, 0x00}) {
		t.Fatal("StartTransaction should succeed")
	}
	a.CancelTransaction(1) // not the holder: must be a no-op

	if holder, _ := a.claims.Holder(); holder != 0 {
		t.Fatalf("Holder() = %d, want 0 (unaffected)", holder)
	}
}

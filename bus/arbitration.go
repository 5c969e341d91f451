package bus

import (
	"time"

	"github.com/mlanger/ebusgw/addr"
	"github.com/mlanger/ebusgw/symbol"
)

// Phase is the externally visible arbitration state reported for the byte
// just fed to the Arbitrator.
type Phase int

// Arbitration phases, per the two-phase state described for the
// arbitration context: none, arbitrating, won, lost, error. Won, Lost, and
// Error are momentary — reported only for the byte that decided the round,
// after which the Arbitrator returns to None.
const (
	PhaseNone Phase = iota
	PhaseArbitrating
	PhaseWon
	PhaseLost
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseArbitrating:
		return "arbitrating"
	case PhaseWon:
		return "won"
	case PhaseLost:
		return "lost"
	default:
		return "error"
	}
}

// Writer is the minimal capability the Arbitrator needs to transmit its
// candidate address onto the bus.
type Writer interface {
	// Ready reports whether the bus accepts a write right now.
	Ready() bool
	// Write transmits one byte. Only called after Ready returned true.
	Write(b byte)
}

// Counters tallies arbitration outcomes for instrumentation.
type Counters struct {
	Total     uint64 // round-1 transmissions started
	Restarts1 uint64 // round-1 start attempts deferred (bus busy)
	Restarts2 uint64 // round-2 start attempts deferred (bus busy)
	Won1      uint64
	Won2      uint64
	Lost1     uint64
	Lost2     uint64
	Late      uint64 // SYN arrived before the minimum guard interval elapsed
	Errors    uint64
}

// minGuard is the minimum elapsed time since the previous SYN required
// before a fresh SYN is trusted to start a new arbitration round; it guards
// against a stray or miscounted SYN appearing mid-telegram.
const minGuard = 4 * time.Millisecond

type substate int

const (
	subNone substate = iota
	subWaitRound1
	subWaitRound2Syn
	subWaitRound2
)

// Arbitrator runs the eBUS two-round priority arbitration contest on behalf
// of one desired own address at a time.
type Arbitrator struct {
	own byte
	sub substate

	Counters Counters
}

// NewArbitrator returns an idle Arbitrator.
func NewArbitrator() *Arbitrator {
	return &Arbitrator{}
}

// Claim registers addr as the address to contend for on the next eligible
// SYN. Claiming while a round is already in flight replaces the address
// contended for in the rest of that round; the caller (the composition
// root's claim registry) is responsible for ensuring only one claim is
// outstanding.
func (a *Arbitrator) Claim(address byte) {
	a.own = address
}

// Cancel abandons a pending or in-flight claim, mirroring a client's
// explicit CMD_START(SYN) cancel. The bus is not notified and an address
// already written is not taken back; the Arbitrator stops tracking the
// round and reports PhaseNone for every byte until the next Claim.
func (a *Arbitrator) Cancel() {
	a.own = 0
	a.sub = subNone
}

// Pending reports whether a claim is outstanding (registered but not yet
// resolved).
func (a *Arbitrator) Pending() bool { return a.own != 0 }

func (a *Arbitrator) reset() {
	a.own = 0
	a.sub = subNone
}

// OnByte feeds one observed bus byte through the arbitration state machine
// and returns the phase decided for this byte. Call it before obs.Feed for
// the same byte, so the guard interval is measured from the previous SYN.
func (a *Arbitrator) OnByte(b byte, obs *Observer, w Writer) Phase {
	switch a.sub {
	case subNone:
		if b != symbol.SYN || a.own == 0 {
			return PhaseNone
		}
		if obs.SinceLastSyn() < minGuard && !obs.lastSynAt.IsZero() {
			a.Counters.Late++
			return PhaseNone
		}
		if !w.Ready() {
			a.Counters.Restarts1++
			return PhaseNone
		}
		w.Write(a.own)
		a.sub = subWaitRound1
		a.Counters.Total++
		return PhaseNone

	case subWaitRound1:
		if b == symbol.SYN || !addr.IsMaster(b) {
			a.Counters.Errors++
			a.reset()
			return PhaseError
		}
		switch {
		case b == a.own:
			a.Counters.Won1++
			a.reset()
			return PhaseWon
		case b&0x0F == a.own&0x0F:
			a.sub = subWaitRound2Syn
			return PhaseArbitrating
		default:
			a.Counters.Lost1++
			a.reset()
			return PhaseLost
		}

	case subWaitRound2Syn:
		if b != symbol.SYN {
			a.Counters.Errors++
			a.reset()
			return PhaseError
		}
		if !w.Ready() {
			a.Counters.Restarts2++
			return PhaseArbitrating
		}
		w.Write(a.own)
		a.sub = subWaitRound2
		return PhaseArbitrating

	case subWaitRound2:
		if b == symbol.SYN || !addr.IsMaster(b) {
			a.Counters.Errors++
			a.reset()
			return PhaseError
		}
		if b == a.own {
			a.Counters.Won2++
			a.reset()
			return PhaseWon
		}
		a.Counters.Lost2++
		a.reset()
		return PhaseLost
	}
	return PhaseNone
}

package ebusgw

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mlanger/ebusgw/addr"
	"github.com/mlanger/ebusgw/bus"
	"github.com/mlanger/ebusgw/enhanced"
	"github.com/mlanger/ebusgw/engine"
	"github.com/mlanger/ebusgw/metrics"
	"github.com/mlanger/ebusgw/queue"
	"github.com/mlanger/ebusgw/serial"
)

// Port is the physical-layer dependency the bus task drives, matching
// spec section 6's receive(u8)/busReady()/busWrite(u8) trio collapsed to
// the two methods a byte-oriented stream needs.
type Port interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
	Close() error
}

// Adapter is the composition root: it owns the serial line, the pure
// protocol core (observer, arbitrator, transaction machine), the client
// fan-out queue and table, and the arbitration claim registry, and runs
// the two tasks of spec section 5 as goroutines connected only through
// the queue and the claim registry.
type Adapter struct {
	cfg Config
	log *logrus.Logger

	port Port

	observer   *bus.Observer
	arbitrator *bus.Arbitrator
	machine    *engine.Machine

	claims  *queue.ClaimRegistry
	clients *queue.ClientTable
	events  *queue.Queue
	reg     *metrics.Registry

	mu           sync.Mutex
	lastActivity time.Time
}

// NewAdapter opens the configured serial port and wires the rest of the
// core around it.
func NewAdapter(cfg Config, log *logrus.Logger, reg prometheus.Registerer) (*Adapter, error) {
	port, err := serial.Open(cfg.SerialDevice)
	if err != nil {
		return nil, fmt.Errorf("ebusgw: open serial port %s: %w", cfg.SerialDevice, err)
	}

	a := &Adapter{
		cfg:        cfg,
		log:        log,
		port:       port,
		observer:   bus.NewObserver(bus.SystemClock{}),
		arbitrator: bus.NewArbitrator(),
		claims:     queue.NewClaimRegistry(),
		clients:    &queue.ClientTable{},
		events:     queue.NewQueue(cfg.QueueCapacity),
		reg:        metrics.NewRegistry(reg),
	}
	a.machine = engine.NewMachine(0, busCapability{a})
	a.touch()
	return a, nil
}

// Close releases the serial port.
func (a *Adapter) Close() error { return a.port.Close() }

// busCapability adapts Adapter to engine.Capability.
type busCapability struct{ a *Adapter }

func (c busCapability) BusReady() bool { return true }

func (c busCapability) BusWrite(b byte) {
	if err := c.a.port.WriteByte(b); err != nil {
		c.a.log.WithError(err).Error("bus write failed")
	}
}

func (c busCapability) SaveResponse(payload []byte) {
	c.a.log.WithField("bytes", len(payload)).Debug("slave response captured")
}

// arbitrationWriter adapts Adapter to bus.Writer.
type arbitrationWriter struct{ a *Adapter }

func (w arbitrationWriter) Ready() bool { return true }

func (w arbitrationWriter) Write(b byte) {
	if err := w.a.port.WriteByte(b); err != nil {
		w.a.log.WithError(err).Error("arbitration write failed")
	}
}

// StartTransaction claims the bus for id at own, on behalf of a
// CMD_START(addr) request, and stages message (built from the client's
// prior CMD_SEND bytes) in the claim registry. It only records the claim;
// the bus task is the one to call machine.Enqueue and arbitrator.Claim,
// on its next onByte, since engine.Machine and bus.Arbitrator carry no
// locking of their own and must stay single-goroutine.
func (a *Adapter) StartTransaction(id queue.ClientID, own byte, message []byte) bool {
	if !addr.IsMaster(own) {
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventErrorHost, Data: enhanced.ErrFraming, Target: id})
		return false
	}
	if !a.claims.TryClaim(id, own, message) {
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventErrorHost, Data: enhanced.ErrFraming, Target: id})
		return false
	}
	return true
}

// CancelTransaction flags id's claim, if any, for release on the bus
// task's next onByte, matching the spec's "a client disconnect cancels
// its arbitration claim immediately" rule. It does not touch the
// transaction machine or arbitrator directly; see StartTransaction.
func (a *Adapter) CancelTransaction(id queue.ClientID) {
	a.claims.RequestCancel(id)
}

func (a *Adapter) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

func (a *Adapter) idleSince() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.lastActivity)
}

// Run drives the bus task, the network drain task, the three TCP
// listeners, the metrics endpoint, and the watchdog until ctx is
// cancelled or any of them returns a fatal error.
func (a *Adapter) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return a.busTask(ctx) })
	group.Go(func() error { return a.networkDrainTask(ctx) })
	group.Go(func() error { return a.watchdogTask(ctx) })
	group.Go(func() error { return a.listen(ctx, a.cfg.RawAddr, false, newRawClient) })
	group.Go(func() error { return a.listenRawReadOnly(ctx) })
	group.Go(func() error { return a.listenEnhanced(ctx) })
	group.Go(func() error { return a.serveMetrics(ctx) })

	return group.Wait()
}

// busTask is spec section 5's bus task: it drives the receive loop and
// must never suspend beyond the blocking serial read itself.
func (a *Adapter) busTask(ctx context.Context) error {
	for ctx.Err() == nil {
		b, err := a.port.ReadByte()
		if err != nil {
			return fmt.Errorf("ebusgw: bus read: %w", err)
		}
		a.onByte(b)
	}
	return ctx.Err()
}

// onByte is the per-byte pipeline: claim intake, arbitration, observation,
// transaction stepping, and client event fan-out, in that order.
// Arbitrator.OnByte must run before Observer.Feed so it can measure the
// gap since the *previous* SYN rather than the one just received.
func (a *Adapter) onByte(b byte) {
	a.touch()

	// The bus task is the only goroutine allowed to drive the machine or
	// the arbitrator; a client handler only ever stages a claim, a
	// message, or a cancellation in the mutex-guarded ClaimRegistry for
	// us to act on here.
	if id, address, message, cancel := a.claims.TakeStaged(); id != queue.NoClient {
		switch {
		case cancel:
			a.arbitrator.Cancel()
			a.machine.Reset()
		case message != nil:
			a.machine.Address = address
			if a.machine.Enqueue(message) {
				a.arbitrator.Claim(address)
			} else {
				a.claims.Release(id)
				a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventFailed, Target: id})
			}
		}
	}

	holder, own := a.claims.Holder()
	if holder != queue.NoClient && a.machine.State() == engine.Arbitration && !a.arbitrator.Pending() {
		a.arbitrator.Claim(own)
	}

	var phase bus.Phase
	if a.arbitrator.Pending() {
		phase = a.arbitrator.OnByte(b, a.observer, arbitrationWriter{a})
	}
	a.observer.Feed(b)
	a.reg.ObserveArbitration(a.arbitrator.Counters)

	a.events.Push(queue.Event{Target: queue.NoClient, Exclude: holder, Data: b})

	switch phase {
	case bus.PhaseWon:
		// The winning byte is m.Address itself (Arbitrator guarantees
		// this), so HandleRecv advances the machine straight from
		// Arbitration to SendMessage.
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventStarted, Target: holder})
		a.machine.HandleRecv(b)
		a.machine.HandleSend()
		return
	case bus.PhaseLost:
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventFailed, Target: holder})
		a.claims.Release(holder)
		a.machine.Reset()
		return
	case bus.PhaseError:
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventErrorEbus, Data: enhanced.ErrFraming, Target: holder})
		a.claims.Release(holder)
		a.machine.Reset()
		return
	case bus.PhaseArbitrating:
		// Still contesting round 2; the machine stays at Arbitration
		// until the Arbitrator resolves it.
		return
	}

	if state := a.machine.State(); state != engine.MonitorBus && state != engine.Arbitration {
		a.machine.HandleRecv(b)
		a.events.Push(queue.Event{Enhanced: true, Tag: enhanced.EventReceived, Data: b, Target: holder})
		a.machine.HandleSend()
		if a.machine.State() == engine.MonitorBus {
			a.claims.Release(holder)
		}
	}
}

// networkDrainTask is the one consumer of the client queue; it fans each
// event out to the client table, which itself applies the per-client
// backpressure check.
func (a *Adapter) networkDrainTask(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-a.events.Events():
			if !ok {
				return nil
			}
			a.clients.Deliver(ev)
		}
	}
}

// watchdogTask exits the process when the bus has been silent for longer
// than the configured idle timeout; restarting the process is an external
// supervisor's job (spec section 7).
func (a *Adapter) watchdogTask(ctx context.Context) error {
	interval := a.cfg.WatchdogIdle / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.idleSince() > a.cfg.WatchdogIdle {
				return fmt.Errorf("ebusgw: bus silent for over %s", a.cfg.WatchdogIdle)
			}
		}
	}
}

// listen accepts connections on addr and hands each one to newClient,
// running its serve loop in its own goroutine.
func (a *Adapter) listen(ctx context.Context, addr string, readOnly bool, newClient func(net.Conn, *Adapter, bool) clientHandler) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("ebusgw: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ebusgw: accept on %s: %w", addr, err)
		}
		client := newClient(conn, a, readOnly)
		go client.serve()
	}
}

func (a *Adapter) listenRawReadOnly(ctx context.Context) error {
	return a.listen(ctx, a.cfg.RawROAddr, true, newRawClient)
}

func (a *Adapter) listenEnhanced(ctx context.Context) error {
	return a.listen(ctx, a.cfg.EnhancedAddr, false, newEnhancedClient)
}

// serveMetrics exposes the Prometheus registry over HTTP for the
// out-of-scope status port to scrape.
func (a *Adapter) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ebusgw: metrics server: %w", err)
	}
	return nil
}

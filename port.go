package osal

import (
	"sync"
	"sync/atomic"
	"time"
)

// CriticalToken is the opaque value returned by Port.EnterCritical and
// consumed by the matching Port.ExitCritical. It carries whatever state the
// Port needs to restore on exit (on a real MCU port, the prior interrupt
// enable bit).
type CriticalToken uint32

// Port abstracts the platform-specific primitives the runtime needs: a
// critical section (modeled on disabling/restoring interrupts) and a
// periodic tick source that drives the timer wheel. Every mutating entry
// point in the package - AddTask, SetEvent, the message and timer calls,
// and heap allocation - takes exactly one critical section per call; none
// of this package's own call chains re-enter a held section, so Port
// implementations are free to back EnterCritical/ExitCritical with a plain
// (non-reentrant) mutex.
type Port interface {
	// EnterCritical acquires the critical section and returns a token to
	// pass to the matching ExitCritical.
	EnterCritical() CriticalToken
	// ExitCritical releases the critical section acquired by the matching
	// EnterCritical call.
	ExitCritical(token CriticalToken)

	// DisableInterrupts and EnableInterrupts bracket a coarser span than a
	// single critical section, matching the disable/init/enable sequence
	// platform bring-up code runs around task registration.
	DisableInterrupts()
	EnableInterrupts()
	InterruptsEnabled() bool

	// TickInit wires onTick to fire once every periodMs milliseconds. It
	// must be called before TickStart.
	TickInit(periodMs uint16, onTick func()) error
	// TickStart begins, and TickStop suspends, delivery of the tick
	// configured by TickInit.
	TickStart() error
	TickStop() error
	// Close releases any resources (goroutines, file descriptors) held by
	// the Port. A stopped Port need not be closed before being discarded,
	// but a running one should be.
	Close() error
}

// mutexPort is the default, platform-agnostic Port: a sync.Mutex stands in
// for interrupt masking, and a goroutine-driven time.Ticker stands in for a
// hardware tick source.
type mutexPort struct {
	mu                sync.Mutex
	interruptsEnabled atomic.Bool

	tickMu     sync.Mutex
	onTick     func()
	period     time.Duration
	ticker     *time.Ticker
	tickerDone chan struct{}
	running    bool
	closed     bool
}

// NewMutexPort constructs the default Port implementation, usable on any
// platform Go itself targets.
func NewMutexPort() Port {
	p := &mutexPort{}
	p.interruptsEnabled.Store(true)
	return p
}

func (p *mutexPort) EnterCritical() CriticalToken {
	p.mu.Lock()
	var tok CriticalToken
	if p.interruptsEnabled.Swap(false) {
		tok = 1
	}
	return tok
}

func (p *mutexPort) ExitCritical(token CriticalToken) {
	p.interruptsEnabled.Store(token != 0)
	p.mu.Unlock()
}

func (p *mutexPort) DisableInterrupts() { p.interruptsEnabled.Store(false) }
func (p *mutexPort) EnableInterrupts()  { p.interruptsEnabled.Store(true) }
func (p *mutexPort) InterruptsEnabled() bool { return p.interruptsEnabled.Load() }

func (p *mutexPort) TickInit(periodMs uint16, onTick func()) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	p.period = time.Duration(periodMs) * time.Millisecond
	p.onTick = onTick
	return nil
}

func (p *mutexPort) TickStart() error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	if p.running || p.closed {
		return nil
	}
	p.ticker = time.NewTicker(p.period)
	p.tickerDone = make(chan struct{})
	p.running = true
	ticker, done, onTick := p.ticker, p.tickerDone, p.onTick
	go func() {
		for {
			select {
			case <-ticker.C:
				onTick()
			case <-done:
				return
			}
		}
	}()
	return nil
}

func (p *mutexPort) TickStop() error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	if !p.running {
		return nil
	}
	p.ticker.Stop()
	close(p.tickerDone)
	p.running = false
	return nil
}

func (p *mutexPort) Close() error {
	_ = p.TickStop()
	p.tickMu.Lock()
	p.closed = true
	p.tickMu.Unlock()
	return nil
}

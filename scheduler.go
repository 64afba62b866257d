package osal

import (
	"sync/atomic"
	"time"
)

// Runtime aggregates the heap, task table, timer wheel, and message pool
// into a single cooperatively-scheduled runtime. Exactly one goroutine may
// call Run; every other exported method is safe to call concurrently,
// including from the goroutine driving the configured Port's tick source.
type Runtime struct {
	port   Port
	heap   *Heap
	tasks  *taskTable
	timers *timerWheel
	logger *Logger

	tickPeriod    uint16
	currentTimeMs uint32

	metricsEnabled bool
	metrics        *Metrics
	tps            *TPSCounter

	wake    chan struct{}
	stopCh  chan struct{}
	running atomic.Bool
}

// New constructs a Runtime from the given Options. The Port's tick source
// is wired to the Runtime's OnTick, but not started; Run starts it.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	heap := newHeap(heapConfig{
		size:            cfg.heapSize,
		smallBlockSize:  cfg.smallBlockSize,
		smallBlockCount: cfg.smallBlockCount,
		longLivedSize:   cfg.longLivedSize,
		minBlockSize:    cfg.minBlockSize,
	})

	rt := &Runtime{
		port:           cfg.port,
		heap:           heap,
		tasks:          newTaskTable(cfg.maxTasks),
		timers:         newTimerWheel(heap),
		logger:         cfg.logger,
		tickPeriod:     cfg.tickPeriod,
		metricsEnabled: cfg.metricsEnabled,
		wake:           make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	if rt.metricsEnabled {
		rt.metrics = &Metrics{}
		rt.tps = NewTPSCounter(10*time.Second, 100*time.Millisecond)
	}
	if err := rt.port.TickInit(cfg.tickPeriod, rt.OnTick); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) signalWake() {
	select {
	case rt.wake <- struct{}{}:
	default:
	}
}

// AddTask registers a task with the given priority (higher values run
// first) and returns its TaskID. It fails with StatusInvalidTaskID once
// the configured maximum task count is reached.
func (rt *Runtime) AddTask(init TaskInitFunc, handler TaskHandlerFunc, priority uint8) (TaskID, error) {
	tok := rt.port.EnterCritical()
	id, err := rt.tasks.add(init, handler, priority)
	rt.port.ExitCritical(tok)
	return id, err
}

// SetEvent ORs events into the task's pending event mask and wakes Run if
// it is idle. Setting events on an unknown TaskID is a no-op, matching the
// legacy behavior of the underlying task table. It is safe to call from
// the tick goroutine or any other.
func (rt *Runtime) SetEvent(id TaskID, events uint16) error {
	tok := rt.port.EnterCritical()
	err := rt.tasks.setEvent(id, events)
	rt.port.ExitCritical(tok)
	if err == nil {
		rt.signalWake()
	}
	return err
}

// ClearEvent clears the given bits from the task's pending event mask.
func (rt *Runtime) ClearEvent(id TaskID, events uint16) error {
	tok := rt.port.EnterCritical()
	err := rt.tasks.clearEvent(id, events)
	rt.port.ExitCritical(tok)
	return err
}

// GetEvent returns the task's current pending event mask.
func (rt *Runtime) GetEvent(id TaskID) (uint16, error) {
	tok := rt.port.EnterCritical()
	events, err := rt.tasks.getEvent(id)
	rt.port.ExitCritical(tok)
	return events, err
}

// MsgAllocate carves a size-byte message body from the heap.
func (rt *Runtime) MsgAllocate(size int) (*MsgBuffer, error) {
	tok := rt.port.EnterCritical()
	buf, err := msgAllocate(rt.heap, size)
	rt.port.ExitCritical(tok)
	if err != nil {
		logHeapExhausted(rt.logger, uint16(size))
	}
	return buf, err
}

// MsgDeallocate releases a buffer's body back to the heap. The buffer
// must already have been removed from a task queue by MsgReceive, or
// never sent.
func (rt *Runtime) MsgDeallocate(buf *MsgBuffer) error {
	tok := rt.port.EnterCritical()
	err := msgDeallocate(rt.heap, buf)
	rt.port.ExitCritical(tok)
	return err
}

// MsgSend appends buf to task's message FIFO and sets SysEventMsg,
// waking Run if it is idle. If the target task does not exist, buf is
// freed back to the heap before returning StatusInvalidTask, matching
// osal_msg_send's "sender owns msg until send succeeds" contract.
func (rt *Runtime) MsgSend(id TaskID, buf *MsgBuffer) error {
	tok := rt.port.EnterCritical()
	tk, ok := rt.tasks.get(id)
	if !ok {
		_ = msgDeallocate(rt.heap, buf)
		rt.port.ExitCritical(tok)
		return StatusInvalidTask
	}
	if err := msgSend(tk, buf); err != nil {
		rt.port.ExitCritical(tok)
		return err
	}
	tk.events |= SysEventMsg
	rt.port.ExitCritical(tok)
	rt.signalWake()
	return nil
}

// MsgReceive detaches and returns task's oldest queued message, clearing
// SysEventMsg if no further messages remain queued.
func (rt *Runtime) MsgReceive(id TaskID) (*MsgBuffer, error) {
	tok := rt.port.EnterCritical()
	tk, ok := rt.tasks.get(id)
	if !ok {
		rt.port.ExitCritical(tok)
		return nil, StatusInvalidTask
	}
	buf, more := msgReceive(rt.heap, tk)
	if buf == nil {
		rt.port.ExitCritical(tok)
		return nil, StatusInvalidMsgPointer
	}
	if !more {
		tk.events &^= SysEventMsg
	}
	rt.port.ExitCritical(tok)
	return buf, nil
}

// StartTimer arms (or re-arms) a timer for (id, eventFlag), due in
// timeoutMs milliseconds. When reload is true, the timer restarts itself
// with the same timeout every time it fires.
func (rt *Runtime) StartTimer(id TaskID, eventFlag uint16, timeoutMs uint16, reload bool) error {
	tok := rt.port.EnterCritical()
	if _, ok := rt.tasks.get(id); !ok {
		rt.port.ExitCritical(tok)
		return StatusInvalidTask
	}
	err := rt.timers.start(id, eventFlag, timeoutMs, reload)
	rt.port.ExitCritical(tok)
	if err == nil {
		var reloadVal uint16
		if reload {
			reloadVal = timeoutMs
		}
		logTimerArmed(rt.logger, id, eventFlag, timeoutMs, reloadVal)
	}
	return err
}

// StopTimer marks the timer for (id, eventFlag) for cancellation; it is
// unlinked and its memory reclaimed on the next OnTick.
func (rt *Runtime) StopTimer(id TaskID, eventFlag uint16) error {
	tok := rt.port.EnterCritical()
	err := rt.timers.stop(id, eventFlag)
	rt.port.ExitCritical(tok)
	if err == nil {
		logTimerReaped(rt.logger, id, eventFlag)
	}
	return err
}

// TimerTimeout returns the remaining milliseconds for (id, eventFlag).
func (rt *Runtime) TimerTimeout(id TaskID, eventFlag uint16) (uint16, error) {
	tok := rt.port.EnterCritical()
	timeout, err := rt.timers.timeout(id, eventFlag)
	rt.port.ExitCritical(tok)
	return timeout, err
}

// NumActiveTimers returns the number of timers currently in the wheel.
func (rt *Runtime) NumActiveTimers() int {
	tok := rt.port.EnterCritical()
	n := rt.timers.numActive()
	rt.port.ExitCritical(tok)
	return n
}

// Millis returns the accumulated tick time, in milliseconds: one tick
// period for every OnTick call since New, whether driven by the Port or
// called directly.
func (rt *Runtime) Millis() uint32 {
	tok := rt.port.EnterCritical()
	ms := rt.currentTimeMs
	rt.port.ExitCritical(tok)
	return ms
}

// MemKick freezes allocations made so far and activates size-based
// allocation routing. It should be called once, after the fixed set of
// long-lived init-time message and timer allocations has been made, and
// before Run. AddTask does not allocate from the heap, so task control
// blocks are not among the frozen allocations.
func (rt *Runtime) MemKick() {
	tok := rt.port.EnterCritical()
	rt.heap.Kick()
	rt.port.ExitCritical(tok)
}

// Metrics returns the Runtime's metrics, or nil if it was constructed
// without WithMetrics(true).
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// OnTick advances the timer wheel by one tick period, firing any timers
// that expire and reaping any that were stopped or are spent one-shots.
// It is the callback wired to the configured Port's tick source, but
// tests may also call it directly to drive the wheel deterministically.
func (rt *Runtime) OnTick() {
	tok := rt.port.EnterCritical()
	rt.currentTimeMs += uint32(rt.tickPeriod)
	reaped := rt.timers.tick(rt.tickPeriod, func(taskID TaskID, eventFlag uint16) {
		_ = rt.tasks.setEvent(taskID, eventFlag)
		logTimerFired(rt.logger, taskID, eventFlag)
	})
	if rt.metrics != nil {
		rt.metrics.Gauges.UpdateHeapUsed(rt.heap.Used())
		rt.metrics.Gauges.UpdateTimersActive(rt.timers.numActive())
	}
	rt.port.ExitCritical(tok)

	// Reaped timers' memory is released under its own, separate critical
	// section, outside the one guarding the list walk above.
	for _, t := range reaped {
		tok := rt.port.EnterCritical()
		rt.heap.free(t.ptr)
		rt.port.ExitCritical(tok)
		logTimerReaped(rt.logger, t.task, t.eventFlag)
	}

	rt.signalWake()
}

// Run calls every registered task's init callback, starts the tick
// source, and then polls forever: on each pass it dispatches the
// highest-priority task with pending events, snapshotting and zeroing
// its event mask first and re-arming whatever bits the handler returns
// unhandled. When no task is ready it blocks until SetEvent, MsgSend, or
// OnTick wakes it, or until Stop is called. Run must be called from
// exactly one goroutine at a time.
func (rt *Runtime) Run() error {
	if !rt.running.CompareAndSwap(false, true) {
		return StatusAlreadyRunning
	}
	defer rt.running.Store(false)

	rt.tasks.runInit()

	if err := rt.port.TickStart(); err != nil {
		return err
	}
	defer rt.port.TickStop()

	for {
		select {
		case <-rt.stopCh:
			return nil
		default:
		}

		tok := rt.port.EnterCritical()
		tk := rt.tasks.nextActive()
		var events uint16
		if tk != nil {
			events = tk.events
			tk.events = 0
		}
		rt.port.ExitCritical(tok)

		if tk == nil {
			select {
			case <-rt.wake:
			case <-rt.stopCh:
				return nil
			}
			continue
		}

		var residual uint16
		start := time.Now()
		if tk.handler != nil {
			residual = tk.handler(tk.id, events)
		}
		elapsed := time.Since(start)

		if rt.metrics != nil {
			rt.metrics.Latency.Record(elapsed)
			rt.metrics.Latency.Sample()
			rt.tps.Increment()
			rt.metrics.DispatchRate = rt.tps.TPS()
		}
		logTaskDispatch(rt.logger, tk.id, events, elapsed)

		if residual != 0 {
			tok = rt.port.EnterCritical()
			tk.events |= residual
			rt.port.ExitCritical(tok)
			rt.signalWake()
		}
	}
}

// Stop requests that Run return after finishing its current dispatch, if
// any. It is safe to call from any goroutine, any number of times.
func (rt *Runtime) Stop() {
	select {
	case <-rt.stopCh:
	default:
		close(rt.stopCh)
	}
	rt.signalWake()
}

// Close stops Run (if running) and releases the configured Port's
// resources. A Runtime must not be reused after Close.
func (rt *Runtime) Close() error {
	rt.Stop()
	return rt.port.Close()
}

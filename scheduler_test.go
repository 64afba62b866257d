package osal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	base := []Option{
		WithHeapSize(4096),
		WithSmallBlockSize(32),
		WithSmallBlockCount(8),
		WithLongLivedSize(64),
		WithMinBlockSize(16),
		WithMaxTasks(8),
		WithTickPeriod(10),
	}
	rt, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return rt
}

// Scenario 1: two-task priority, preemption-free dispatch. The
// higher-priority task's pending events must be observed (snapshotted)
// before the lower-priority one's, across a single pass over the table.
func TestScenarioTwoTaskPriorityOrder(t *testing.T) {
	rt := newTestRuntime(t)

	var order []uint16
	recv := make(chan struct{}, 2)
	a, err := rt.AddTask(nil, func(_ TaskID, events uint16) uint16 {
		order = append(order, events)
		recv <- struct{}{}
		return 0
	}, 1)
	require.NoError(t, err)
	b, err := rt.AddTask(nil, func(_ TaskID, events uint16) uint16 {
		order = append(order, events)
		recv <- struct{}{}
		return 0
	}, 2)
	require.NoError(t, err)

	rt.MemKick()
	require.NoError(t, rt.SetEvent(a, 0x0001))
	require.NoError(t, rt.SetEvent(b, 0x0002))

	go func() { _ = rt.Run() }()
	<-recv
	<-recv
	rt.Stop()

	require.Equal(t, []uint16{0x0002, 0x0001}, order)
}

// Scenario 2: message FIFO, with SysEventMsg cleared only once the last
// queued message has been received.
func TestScenarioMessageFIFO(t *testing.T) {
	rt := newTestRuntime(t)
	id, err := rt.AddTask(nil, nil, 1)
	require.NoError(t, err)
	rt.MemKick()

	send := func(body string) {
		buf, err := rt.MsgAllocate(len(body))
		require.NoError(t, err)
		copy(buf.Bytes(), body)
		require.NoError(t, rt.MsgSend(id, buf))
	}
	send("m1")
	send("m2")
	send("m3")

	events, err := rt.GetEvent(id)
	require.NoError(t, err)
	require.NotZero(t, events&SysEventMsg)

	for _, want := range []string{"m1", "m2", "m3"} {
		buf, err := rt.MsgReceive(id)
		require.NoError(t, err)
		require.Equal(t, want, string(buf.Bytes()))
		require.NoError(t, rt.MsgDeallocate(buf))
	}

	events, err = rt.GetEvent(id)
	require.NoError(t, err)
	require.Zero(t, events&SysEventMsg)
}

// Scenario 3: periodic timer, 10ms tick, 30ms period - fires on the 3rd
// and 6th tick, restoring its full timeout each time.
func TestScenarioPeriodicTimer(t *testing.T) {
	rt := newTestRuntime(t)
	id, err := rt.AddTask(nil, nil, 1)
	require.NoError(t, err)
	rt.MemKick()

	require.NoError(t, rt.StartTimer(id, 0x0010, 30, true))

	rt.OnTick()
	rt.OnTick()
	events, err := rt.GetEvent(id)
	require.NoError(t, err)
	require.Zero(t, events&0x0010)

	rt.OnTick()
	events, err = rt.GetEvent(id)
	require.NoError(t, err)
	require.NotZero(t, events&0x0010)

	timeout, err := rt.TimerTimeout(id, 0x0010)
	require.NoError(t, err)
	require.Equal(t, uint16(30), timeout)

	require.NoError(t, rt.ClearEvent(id, 0x0010))
	rt.OnTick()
	rt.OnTick()
	rt.OnTick()
	events, err = rt.GetEvent(id)
	require.NoError(t, err)
	require.NotZero(t, events&0x0010)
}

// Scenario 4: a stopped timer must not fire on the next tick, and its
// node must be reaped, decreasing the active count.
func TestScenarioTimerCancellationRace(t *testing.T) {
	rt := newTestRuntime(t)
	id, err := rt.AddTask(nil, nil, 1)
	require.NoError(t, err)
	rt.MemKick()

	require.NoError(t, rt.StartTimer(id, 0x0020, 20, false))
	before := rt.NumActiveTimers()
	require.NoError(t, rt.StopTimer(id, 0x0020))

	rt.OnTick()

	events, err := rt.GetEvent(id)
	require.NoError(t, err)
	require.Zero(t, events&0x0020)
	require.Equal(t, before-1, rt.NumActiveTimers())
}

// Scenario 5: heap exhaustion recovered by coalescing freed blocks.
func TestScenarioHeapExhaustionThenCoalesce(t *testing.T) {
	rt := newTestRuntime(t, WithHeapSize(1024), WithSmallBlockSize(16), WithSmallBlockCount(8), WithLongLivedSize(32))
	rt.MemKick()

	var bufs []*MsgBuffer
	for {
		buf, err := rt.MsgAllocate(16)
		if err != nil {
			require.ErrorIs(t, err, ErrNoMemory)
			break
		}
		bufs = append(bufs, buf)
	}
	require.NotEmpty(t, bufs)

	for i := 0; i < len(bufs); i += 2 {
		require.NoError(t, rt.MsgDeallocate(bufs[i]))
	}

	_, err := rt.MsgAllocate(32)
	require.NoError(t, err)
}

// Scenario 6: kick discipline - allocations made before MemKick are
// never freed, so ff1 must never retreat behind them once small-block
// size routing is active.
func TestScenarioKickDiscipline(t *testing.T) {
	rt := newTestRuntime(t)

	var longLived []*MsgBuffer
	for i := 0; i < 3; i++ {
		buf, err := rt.MsgAllocate(8)
		require.NoError(t, err)
		longLived = append(longLived, buf)
	}
	rt.MemKick()
	require.True(t, rt.heap.Kicked())

	lastLongLivedEnd := 0
	for _, buf := range longLived {
		end := buf.msg.ptr + buf.msg.size
		if end > lastLongLivedEnd {
			lastLongLivedEnd = end
		}
	}

	for i := 0; i < 4; i++ {
		buf, err := rt.MsgAllocate(8)
		require.NoError(t, err)
		require.NoError(t, rt.MsgDeallocate(buf))
		require.GreaterOrEqual(t, rt.heap.ff1, lastLongLivedEnd-hdrSize)
	}
}

// MsgSend must hand buf's memory back to the heap when the target task
// does not exist, rather than leaking it: the caller can no longer reach
// buf once MsgSend has returned.
func TestMsgSendUnknownTaskFreesBuffer(t *testing.T) {
	rt := newTestRuntime(t)
	rt.MemKick()

	before := rt.heap.Used()
	buf, err := rt.MsgAllocate(16)
	require.NoError(t, err)
	require.Greater(t, rt.heap.Used(), before)

	err = rt.MsgSend(999, buf)
	require.ErrorIs(t, err, ErrInvalidTask)
	require.Equal(t, before, rt.heap.Used())
}

func TestRunRedispatchesResidualEvents(t *testing.T) {
	rt := newTestRuntime(t)
	calls := make(chan uint16, 8)
	id, err := rt.AddTask(nil, func(_ TaskID, events uint16) uint16 {
		calls <- events
		if events&0x0004 != 0 {
			return 0x0004 // ask to be redispatched
		}
		return 0
	}, 1)
	require.NoError(t, err)
	rt.MemKick()
	require.NoError(t, rt.SetEvent(id, 0x0004))

	go func() { _ = rt.Run() }()
	first := <-calls
	second := <-calls
	rt.Stop()

	require.Equal(t, uint16(0x0004), first)
	require.Equal(t, uint16(0x0004), second)
}

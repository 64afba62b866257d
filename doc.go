// Package osal provides a cooperative, single-threaded task runtime modeled
// after small-footprint embedded operating system abstraction layers: a
// priority-ordered task table, a two-region arena heap, per-task message
// queues carved from that heap, and a software timer wheel driven by a
// platform tick source.
//
// # Architecture
//
// A [Runtime] aggregates the four components:
//   - [Heap]: a small-block pool plus a wilderness region, both carved from
//     a single byte arena, with lazy coalescing on allocation.
//   - the task table: a strictly priority-ordered list of tasks, each with
//     a 16-bit event bitmask and an init/run handler pair.
//   - the timer wheel: a linked list of software timers, decremented once
//     per call to [Runtime.OnTick].
//   - the message pool: fixed-header buffers allocated from the [Heap] and
//     queued on a per-task FIFO list (there is no global queue).
//
// # Platform Support
//
// The tick source and critical-section primitive are abstracted behind
// [Port]:
//   - any OS: [NewMutexPort], a critical section backed by a plain
//     (non-reentrant) mutex whose token saves and restores the interrupt
//     flag, with a goroutine-driven ticker.
//   - linux: [NewLinuxPort], backed by timerfd and epoll.
//
// # Concurrency Model
//
// Unlike a general-purpose worker pool, the runtime is deliberately
// single-threaded at its core: [Runtime.Run] must be called from exactly
// one goroutine, and only that goroutine invokes task handlers. The tick
// source runs on its own goroutine and only ever calls [Runtime.OnTick],
// which takes the same critical section as every other mutating call, so
// tasks never observe a torn event word or a torn timer list.
//
// # Usage
//
//	rt, err := osal.New(
//	    osal.WithHeapSize(8192),
//	    osal.WithMaxTasks(8),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := rt.AddTask(nil, handler, 1); err != nil {
//	    log.Fatal(err)
//	}
//	rt.MemKick()
//	if err := rt.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package provides:
//   - [Status]: an error-compatible result code for recoverable failures
//     (invalid task, exhausted heap, unknown timer, ...).
//   - [InvariantViolation]: the panic value raised when an internal
//     invariant is violated, such as heap corruption.
//
// Both support [errors.Is] and [errors.As] via Unwrap.
package osal

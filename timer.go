package osal

// timerNodeSize is the number of heap bytes a timer consumes; timers are
// carved from the same arena as messages so a Runtime configured with a
// small heap can exhaust timer availability under load, matching
// StatusNoTimerAvail.
const timerNodeSize = 16

// timerNode is one entry in the timer wheel's singly-linked list.
// Cancellation is two-phase: stop marks a timer by zeroing eventFlag, and
// the next tick unlinks and frees it - never mutating the list out from
// under a tick already walking it.
type timerNode struct {
	next      *timerNode
	ptr       int // heap offset this node's memory was carved from
	task      TaskID
	eventFlag uint16
	timeout   uint16
	reload    uint16
}

// timerWheel is the runtime's software timer list: a flat singly-linked
// list, walked and decremented once per OnTick.
type timerWheel struct {
	heap        *Heap
	head        *timerNode
	totalActive int
}

func newTimerWheel(heap *Heap) *timerWheel {
	return &timerWheel{heap: heap}
}

// find performs the linear scan osal_find_timer does: the first node
// matching both task and eventFlag.
func (w *timerWheel) find(taskID TaskID, eventFlag uint16) *timerNode {
	for t := w.head; t != nil; t = t.next {
		if t.task == taskID && t.eventFlag == eventFlag {
			return t
		}
	}
	return nil
}

// addOrFind returns the existing timer for (taskID, eventFlag) if one is
// already running, or allocates and appends a new one at the tail.
func (w *timerWheel) addOrFind(taskID TaskID, eventFlag uint16) (*timerNode, error) {
	if t := w.find(taskID, eventFlag); t != nil {
		return t, nil
	}
	ptr, ok := w.heap.allocate(timerNodeSize)
	if !ok {
		return nil, StatusNoTimerAvail
	}
	t := &timerNode{ptr: ptr, task: taskID, eventFlag: eventFlag}
	if w.head == nil {
		w.head = t
	} else {
		cur := w.head
		for cur.next != nil {
			cur = cur.next
		}
		cur.next = t
	}
	w.totalActive++
	return t, nil
}

// start arms (or re-arms) the timer for (taskID, eventFlag), due in
// timeoutMs milliseconds. When reload is true the timer restarts itself
// with the same timeout every time it fires; otherwise it fires once and
// is unlinked on the same tick it fires on.
func (w *timerWheel) start(taskID TaskID, eventFlag uint16, timeoutMs uint16, reload bool) error {
	t, err := w.addOrFind(taskID, eventFlag)
	if err != nil {
		return err
	}
	t.timeout = timeoutMs
	if reload {
		t.reload = timeoutMs
	} else {
		t.reload = 0
	}
	return nil
}

// stop marks the timer for (taskID, eventFlag) for reaping on the next
// tick. It does not unlink or free immediately, so a tick concurrently
// walking the list never observes a mutated link.
func (w *timerWheel) stop(taskID TaskID, eventFlag uint16) error {
	t := w.find(taskID, eventFlag)
	if t == nil {
		return StatusInvalidEventID
	}
	t.eventFlag = 0
	return nil
}

// timeout returns the remaining milliseconds for (taskID, eventFlag).
func (w *timerWheel) timeout(taskID TaskID, eventFlag uint16) (uint16, error) {
	t := w.find(taskID, eventFlag)
	if t == nil {
		return 0, StatusInvalidEventID
	}
	return t.timeout, nil
}

// numActive returns the number of timers currently in the wheel,
// including any marked for reap but not yet collected.
func (w *timerWheel) numActive() int { return w.totalActive }

// tick decrements every timer by ms milliseconds, invoking onFire for any
// that reach zero with a live eventFlag, reloading those configured to
// repeat, and unlinking anything that is either a spent one-shot or was
// marked for cancellation by stop. It returns the unlinked nodes without
// freeing their heap memory: the original frees a reaped timer's memory
// outside the critical section guarding the list walk, so the caller is
// expected to release each returned node's memory under its own, separate
// critical section.
func (w *timerWheel) tick(ms uint16, onFire func(taskID TaskID, eventFlag uint16)) []*timerNode {
	var prev *timerNode
	cur := w.head
	var reaped []*timerNode

	for cur != nil {
		if cur.timeout <= ms {
			cur.timeout = 0
		} else {
			cur.timeout -= ms
		}

		if cur.timeout == 0 && cur.eventFlag != 0 {
			onFire(cur.task, cur.eventFlag)
			cur.timeout = cur.reload
		}

		if cur.timeout == 0 || cur.eventFlag == 0 {
			next := cur.next
			if prev == nil {
				w.head = next
			} else {
				prev.next = next
			}
			reaped = append(reaped, cur)
			w.totalActive--
			cur = next
			continue
		}

		prev = cur
		cur = cur.next
	}

	return reaped
}

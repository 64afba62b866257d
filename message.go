package osal

// message links a message buffer into its owning task's FIFO. Unlike the
// legacy global-queue design this runtime does not carry (a single list
// threading every task's messages together, searched by task handle on
// every receive), each task keeps its own head/tail pair, so Send and
// Receive never scan past messages belonging to other tasks.
type message struct {
	next *message
	ptr  int // offset into the heap arena where the body begins
	size int
}

// MsgBuffer is a handle to a message body allocated from a Runtime's heap.
// It is valid from MsgAllocate until passed to MsgDeallocate, or until
// consumed by MsgSend and later released via MsgDeallocate after
// MsgReceive.
type MsgBuffer struct {
	heap *Heap
	msg  *message
}

// Bytes returns the buffer's body. The slice aliases the heap arena and
// must not be retained past MsgDeallocate.
func (b *MsgBuffer) Bytes() []byte {
	return b.heap.Bytes(b.msg.ptr, b.msg.size)
}

// Len returns the buffer's body length in bytes.
func (b *MsgBuffer) Len() int { return b.msg.size }

// msgAllocate carves a buffer of size bytes from the heap. The returned
// buffer is not yet linked into any task's queue. A zero-length request
// returns a nil buffer and no error, matching osal_msg_allocate's
// if (len == 0) return (NULL);.
func msgAllocate(heap *Heap, size int) (*MsgBuffer, error) {
	if size == 0 {
		return nil, nil
	}
	ptr, ok := heap.allocate(size)
	if !ok {
		return nil, StatusNoMemory
	}
	return &MsgBuffer{heap: heap, msg: &message{ptr: ptr, size: size}}, nil
}

// msgDeallocate releases a buffer's body back to the heap. The buffer
// must not still be linked into a task queue (i.e. it must have already
// been removed by msgReceive, or never sent).
func msgDeallocate(heap *Heap, buf *MsgBuffer) error {
	if buf == nil || buf.msg == nil {
		return StatusInvalidMsgPointer
	}
	heap.free(buf.msg.ptr)
	buf.msg = nil
	return nil
}

// msgSend appends buf to the tail of task's message FIFO, marking it for
// a subsequent deallocation by the receiver. The caller is responsible for
// setting SysEventMsg on the target task afterward.
func msgSend(tk *task, buf *MsgBuffer) error {
	if buf == nil || buf.msg == nil {
		return StatusInvalidMsgPointer
	}
	m := buf.msg
	m.next = nil
	if tk.msgTail == nil {
		tk.msgHead = m
		tk.msgTail = m
	} else {
		tk.msgTail.next = m
		tk.msgTail = m
	}
	return nil
}

// msgReceive detaches and returns the task's oldest queued message. The
// second return value reports whether the queue still holds at least one
// more message after the detach, so the caller can decide whether to
// leave SysEventMsg set.
func msgReceive(heap *Heap, tk *task) (*MsgBuffer, bool) {
	m := tk.msgHead
	if m == nil {
		return nil, false
	}
	tk.msgHead = m.next
	if tk.msgHead == nil {
		tk.msgTail = nil
	}
	m.next = nil
	return &MsgBuffer{heap: heap, msg: m}, tk.msgHead != nil
}

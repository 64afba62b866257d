package osal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageSendReceiveFIFO(t *testing.T) {
	h := newTestHeap(t, 2048)
	tt := newTaskTable(4)
	id, err := tt.add(nil, nil, 1)
	require.NoError(t, err)
	tk, _ := tt.get(id)

	bufA, err := msgAllocate(h, 4)
	require.NoError(t, err)
	copy(bufA.Bytes(), []byte("AAAA"))
	bufB, err := msgAllocate(h, 4)
	require.NoError(t, err)
	copy(bufB.Bytes(), []byte("BBBB"))

	require.NoError(t, msgSend(tk, bufA))
	require.NoError(t, msgSend(tk, bufB))

	first, more := msgReceive(h, tk)
	require.NotNil(t, first)
	require.True(t, more)
	require.Equal(t, []byte("AAAA"), first.Bytes())

	second, more := msgReceive(h, tk)
	require.NotNil(t, second)
	require.False(t, more)
	require.Equal(t, []byte("BBBB"), second.Bytes())

	third, more := msgReceive(h, tk)
	require.Nil(t, third)
	require.False(t, more)
}

func TestMessageDeallocateReleasesHeapMemory(t *testing.T) {
	h := newTestHeap(t, 256)
	buf, err := msgAllocate(h, 16)
	require.NoError(t, err)
	require.Equal(t, 16, h.Used())

	require.NoError(t, msgDeallocate(h, buf))
	require.Equal(t, 0, h.Used())
}

func TestMessageAllocateExhaustionReturnsStatus(t *testing.T) {
	h := newTestHeap(t, 256)
	_, err := msgAllocate(h, 10000)
	require.ErrorIs(t, err, ErrNoMemory)
}

func TestMessageSendNilBufferReturnsStatus(t *testing.T) {
	tt := newTaskTable(4)
	id, _ := tt.add(nil, nil, 1)
	tk, _ := tt.get(id)
	require.ErrorIs(t, msgSend(tk, nil), ErrInvalidMsgPointer)
}

func TestMessageAllocateZeroLengthReturnsNilBuffer(t *testing.T) {
	h := newTestHeap(t, 256)
	buf, err := msgAllocate(h, 0)
	require.NoError(t, err)
	require.Nil(t, buf)
	require.Equal(t, 0, h.Used())
}

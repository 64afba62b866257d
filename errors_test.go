package osal

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusStringCoversEveryConstant(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInvalidTask, "invalid task"},
		{StatusInvalidMsgPointer, "invalid message pointer"},
		{StatusMsgBufferNotAvail, "message buffer not available"},
		{StatusInvalidEventID, "invalid event id"},
		{StatusNoTimerAvail, "no timer available"},
		{StatusInvalidTaskID, "invalid task id"},
		{StatusNoMemory, "no memory"},
		{StatusAlreadyRunning, "already running"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.status.String())
		require.Equal(t, c.want, c.status.Error())
	}
}

func TestStatusStringUnknownFallsBackToNumeric(t *testing.T) {
	require.Equal(t, "status(200)", Status(200).String())
}

func TestStatusSatisfiesErrorsIs(t *testing.T) {
	var err error = StatusNoMemory
	require.True(t, errors.Is(err, ErrNoMemory))
	require.False(t, errors.Is(err, ErrInvalidTask))
}

func TestWrapStatusPreservesErrorsIs(t *testing.T) {
	wrapped := WrapStatus("MsgAllocate", StatusNoMemory)
	require.ErrorIs(t, wrapped, ErrNoMemory)
	require.Equal(t, "MsgAllocate: no memory", wrapped.Error())
}

func TestInvariantViolationUnwraps(t *testing.T) {
	cause := errInvariant("corrupt header")
	v := &InvariantViolation{Where: "heap.header", Cause: cause}
	require.ErrorIs(t, v, cause)
	require.Contains(t, v.Error(), "heap.header")
	require.Contains(t, v.Error(), "corrupt header")
}

func TestPanicInvariantPanicsWithInvariantViolation(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		v, ok := r.(*InvariantViolation)
		require.True(t, ok)
		require.Equal(t, "test.where", v.Where)
	}()
	panicInvariant(nil, "test.where", fmt.Errorf("boom"))
}

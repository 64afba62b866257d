package osal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskTableAddOrdersByPriorityDescending(t *testing.T) {
	tt := newTaskTable(8)

	low, err := tt.add(nil, nil, 1)
	require.NoError(t, err)
	high, err := tt.add(nil, nil, 5)
	require.NoError(t, err)
	mid, err := tt.add(nil, nil, 3)
	require.NoError(t, err)

	var order []TaskID
	for _, tk := range tt.tasks {
		order = append(order, tk.id)
	}
	require.Equal(t, []TaskID{high, mid, low}, order)
}

func TestTaskTableEqualPriorityPreservesInsertionOrder(t *testing.T) {
	tt := newTaskTable(8)

	first, err := tt.add(nil, nil, 2)
	require.NoError(t, err)
	second, err := tt.add(nil, nil, 2)
	require.NoError(t, err)
	third, err := tt.add(nil, nil, 2)
	require.NoError(t, err)

	var order []TaskID
	for _, tk := range tt.tasks {
		order = append(order, tk.id)
	}
	require.Equal(t, []TaskID{first, second, third}, order)
}

func TestTaskTableFullReturnsStatus(t *testing.T) {
	tt := newTaskTable(1)
	_, err := tt.add(nil, nil, 1)
	require.NoError(t, err)
	_, err = tt.add(nil, nil, 1)
	require.ErrorIs(t, err, ErrInvalidTaskID)
}

func TestSetClearGetEvent(t *testing.T) {
	tt := newTaskTable(4)
	id, err := tt.add(nil, nil, 1)
	require.NoError(t, err)

	require.NoError(t, tt.setEvent(id, 0x0001))
	require.NoError(t, tt.setEvent(id, 0x0002))

	events, err := tt.getEvent(id)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0003), events)

	require.NoError(t, tt.clearEvent(id, 0x0001))
	events, err = tt.getEvent(id)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0002), events)
}

func TestSetEventUnknownTaskIsNoOp(t *testing.T) {
	tt := newTaskTable(4)
	require.NoError(t, tt.setEvent(999, 1))
}

func TestNextActiveFindsHighestPriorityReadyTask(t *testing.T) {
	tt := newTaskTable(4)
	low, err := tt.add(nil, nil, 1)
	require.NoError(t, err)
	high, err := tt.add(nil, nil, 5)
	require.NoError(t, err)

	require.Nil(t, tt.nextActive())

	require.NoError(t, tt.setEvent(low, 1))
	active := tt.nextActive()
	require.NotNil(t, active)
	require.Equal(t, low, active.id)

	require.NoError(t, tt.setEvent(high, 1))
	active = tt.nextActive()
	require.NotNil(t, active)
	require.Equal(t, high, active.id)
}

func TestRunInitInvokesEveryTask(t *testing.T) {
	tt := newTaskTable(4)
	var initialized []TaskID
	_, err := tt.add(func(id TaskID) { initialized = append(initialized, id) }, nil, 2)
	require.NoError(t, err)
	_, err = tt.add(func(id TaskID) { initialized = append(initialized, id) }, nil, 1)
	require.NoError(t, err)

	tt.runInit()
	require.Len(t, initialized, 2)
}

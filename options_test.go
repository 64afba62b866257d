package osal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOptionsDefaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)

	require.Equal(t, 4096, cfg.heapSize)
	require.Equal(t, 32, cfg.smallBlockSize)
	require.Equal(t, 16, cfg.smallBlockCount)
	require.Equal(t, 128, cfg.longLivedSize)
	require.Equal(t, 16, cfg.minBlockSize)
	require.Equal(t, 16, cfg.maxTasks)
	require.Equal(t, uint16(10), cfg.tickPeriod)
	require.False(t, cfg.metricsEnabled)
	require.Nil(t, cfg.logger)
	require.NotNil(t, cfg.port)
}

func TestResolveOptionsOverridesEveryField(t *testing.T) {
	logger := NewZerologLogger(os.Stdout, 0)
	port := NewMutexPort()

	cfg, err := resolveOptions([]Option{
		WithHeapSize(8192),
		WithSmallBlockSize(64),
		WithSmallBlockCount(4),
		WithLongLivedSize(256),
		WithMinBlockSize(8),
		WithMaxTasks(2),
		WithTickPeriod(5),
		WithMetrics(true),
		WithLogger(logger),
		WithPort(port),
	})
	require.NoError(t, err)

	require.Equal(t, 8192, cfg.heapSize)
	require.Equal(t, 64, cfg.smallBlockSize)
	require.Equal(t, 4, cfg.smallBlockCount)
	require.Equal(t, 256, cfg.longLivedSize)
	require.Equal(t, 8, cfg.minBlockSize)
	require.Equal(t, 2, cfg.maxTasks)
	require.Equal(t, uint16(5), cfg.tickPeriod)
	require.True(t, cfg.metricsEnabled)
	require.Same(t, logger, cfg.logger)
	require.Same(t, port, cfg.port)
}

func TestResolveOptionsSkipsNilOption(t *testing.T) {
	cfg, err := resolveOptions([]Option{nil, WithMaxTasks(3), nil})
	require.NoError(t, err)
	require.Equal(t, 3, cfg.maxTasks)
}

func TestNewAppliesOptionsToRuntime(t *testing.T) {
	rt, err := New(WithHeapSize(1024), WithMaxTasks(2), WithTickPeriod(20))
	require.NoError(t, err)
	require.Equal(t, 1024, rt.heap.Size())
	require.Equal(t, 2, rt.tasks.maxTasks)
	require.Equal(t, uint16(20), rt.tickPeriod)
}

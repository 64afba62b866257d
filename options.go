// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package osal

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	heapSize        int
	smallBlockSize  int
	smallBlockCount int
	longLivedSize   int
	minBlockSize    int
	maxTasks        int
	tickPeriod      uint16
	port            Port
	logger          *Logger
	metricsEnabled  bool
}

// --- Runtime Options ---

// Option configures a Runtime instance.
type Option interface {
	apply(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*runtimeOptions) error
}

func (o *optionImpl) apply(opts *runtimeOptions) error {
	return o.applyFunc(opts)
}

// WithHeapSize sets the total size, in bytes, of the arena backing the
// heap allocator.
func WithHeapSize(bytes int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.heapSize = bytes
		return nil
	}}
}

// WithSmallBlockSize sets the small-allocation threshold: after MemKick,
// a request whose size plus header is at most this many bytes is served
// starting from the small-block bucket at the low end of the arena. It is
// also one factor of that bucket's size (see WithSmallBlockCount).
func WithSmallBlockSize(bytes int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.smallBlockSize = bytes
		return nil
	}}
}

// WithSmallBlockCount sets how many small blocks' worth of bytes the
// small-block bucket holds: the bucket is smallBlockSize*count plus the
// long-lived size. The bucket is not divided into fixed slots; allocations
// split it as they need.
func WithSmallBlockCount(count int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.smallBlockCount = count
		return nil
	}}
}

// WithLongLivedSize sets the number of bytes added to the small-block
// bucket on top of smallBlockSize*smallBlockCount, room for the
// allocations made before MemKick.
func WithLongLivedSize(bytes int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.longLivedSize = bytes
		return nil
	}}
}

// WithMinBlockSize sets the smallest remainder the allocator will split
// off a free block, in either region; when less than this would remain,
// the whole free block is handed out. Values below 8 are raised to 8.
func WithMinBlockSize(bytes int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.minBlockSize = bytes
		return nil
	}}
}

// WithMaxTasks sets the maximum number of tasks the task table can hold.
func WithMaxTasks(count int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.maxTasks = count
		return nil
	}}
}

// WithTickPeriod sets the number of milliseconds represented by each
// call to OnTick, used to decrement the timer wheel.
func WithTickPeriod(ms uint16) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.tickPeriod = ms
		return nil
	}}
}

// WithPort overrides the Port implementation used for critical sections
// and the tick source. The default is a mutex-backed Port usable on any
// platform; linux hosts may instead pass NewLinuxPort.
func WithPort(port Port) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.port = port
		return nil
	}}
}

// WithLogger attaches a structured logger to the Runtime. See NewZerologLogger.
func WithLogger(logger *Logger) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection.
// When enabled, metrics can be accessed via Runtime.Metrics().
// This adds minimal overhead (record latency after each dispatch, update
// heap/timer gauges once per tick). For zero-allocation hot paths,
// disable metrics in production.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to runtimeOptions, then fills in
// defaults for anything left unset.
func resolveOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		heapSize:        4096,
		smallBlockSize:  32,
		smallBlockCount: 16,
		longLivedSize:   128,
		minBlockSize:    16,
		maxTasks:        16,
		tickPeriod:      10,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.port == nil {
		cfg.port = NewMutexPort()
	}
	return cfg, nil
}

// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package kthread

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	timeSlice  int
	maxThreads int
	mlfqs      bool
	logger     *logiface.Logger[logiface.Event]
	activate   func(*Thread)
}

// Option configures a Scheduler instance.
type Option interface {
	apply(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*schedulerOptions) error
}

func (o *optionImpl) apply(opts *schedulerOptions) error {
	return o.applyFunc(opts)
}

// WithTimeSlice sets the number of timer ticks a thread may run before the
// tick handler arms a preemptive yield. Defaults to DefaultTimeSlice.
func WithTimeSlice(ticks int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if ticks <= 0 {
			return fmt.Errorf("kthread: time slice must be positive, got %d", ticks)
		}
		opts.timeSlice = ticks
		return nil
	}}
}

// WithMaxThreads caps the number of concurrently live threads, standing in
// for a finite kernel memory pool. Create fails with ErrOutOfMemory once the
// cap is reached. Zero (the default) means unlimited.
func WithMaxThreads(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n < 0 {
			return fmt.Errorf("kthread: max threads must be non-negative, got %d", n)
		}
		opts.maxThreads = n
		return nil
	}}
}

// WithMLFQS selects the multi-level feedback queue scheduling policy.
// Recorded and reported but not otherwise implemented; scheduling remains
// round-robin.
func WithMLFQS(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.mlfqs = enabled
		return nil
	}}
}

// WithLogger sets the structured logger for scheduler events. A nil logger
// (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithActivateHook registers a callback invoked once per completed context
// switch, on the newly running thread, with interrupts masked. Intended for
// an address-space layer to install the thread's address space. The hook
// must not block or call scheduler methods that may suspend.
func WithActivateHook(fn func(*Thread)) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.activate = fn
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		timeSlice: DefaultTimeSlice, // default
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package sync2 provides small synchronization helpers.
package sync2

import (
	"context"
	"time"
)

// Cycle implements a controllable recurring event. It drives background
// chores such as the draft TTL sweep and the attachment-move retrier.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	control chan cycleTrigger
	quit    chan struct{}
}

type cycleTrigger struct {
	done chan struct{}
}

// NewCycle creates a new cycle with the specified interval. The channels are
// created here so that TriggerWait is safe even before Run is scheduled.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{
		interval: interval,
		control:  make(chan cycleTrigger),
		quit:     make(chan struct{}),
	}
}

// Run calls fn immediately and then every interval until ctx is canceled or
// fn returns an error. Run may be called at most once.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer close(cycle.quit)

	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		case trigger := <-cycle.control:
			err := fn(ctx)
			if trigger.done != nil {
				close(trigger.done)
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TriggerWait runs fn out of schedule and waits for it to complete. Tests
// use it to make chores deterministic.
func (cycle *Cycle) TriggerWait() {
	done := make(chan struct{})
	select {
	case cycle.control <- cycleTrigger{done: done}:
		<-done
	case <-cycle.quit:
	}
}

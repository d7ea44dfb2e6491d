// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package submission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/storage"
)

// Retrier completes pending attachment moves after a committed submission.
// Jobs run on a context detached from the originating request so a client
// disconnect cannot cancel them; each job retries with exponential backoff
// within a bounded horizon, after which the situation is logged for operator
// intervention. The submission stays valid either way.
type Retrier struct {
	log     *zap.Logger
	backing storage.Store

	initial time.Duration
	max     time.Duration
	horizon time.Duration

	root   context.Context
	cancel context.CancelFunc
	group  sync.WaitGroup
}

// NewRetrier creates a retrier over backing.
func NewRetrier(log *zap.Logger, backing storage.Store, initial, max, horizon time.Duration) *Retrier {
	root, cancel := context.WithCancel(context.Background())
	return &Retrier{
		log:     log,
		backing: backing,
		initial: initial,
		max:     max,
		horizon: horizon,
		root:    root,
		cancel:  cancel,
	}
}

// Enqueue schedules one move for completion.
func (retrier *Retrier) Enqueue(src, dst string) {
	retrier.group.Add(1)
	go func() {
		defer retrier.group.Done()
		retrier.run(src, dst)
	}()
}

// Close stops accepting progress and waits for in-flight jobs to observe
// cancellation.
func (retrier *Retrier) Close() {
	retrier.cancel()
	retrier.group.Wait()
}

func (retrier *Retrier) run(src, dst string) {
	ctx, cancel := context.WithTimeout(retrier.root, retrier.horizon)
	defer cancel()

	backoff := retrier.initial
	for attempt := 1; ; attempt++ {
		err := retrier.backing.Move(ctx, src, dst)
		if err == nil || eln.ErrConflict.Has(err) {
			// conflict means the destination holds different bytes; retrying
			// cannot resolve it, only an operator can
			if err != nil {
				retrier.log.Error("pending move conflicts, giving up",
					zap.String("src", src), zap.String("dst", dst), zap.Error(err))
			} else {
				retrier.log.Info("pending move completed",
					zap.String("dst", dst), zap.Int("attempts", attempt))
			}
			return
		}

		select {
		case <-ctx.Done():
			retrier.log.Error("pending move abandoned after horizon",
				zap.String("src", src), zap.String("dst", dst),
				zap.Int("attempts", attempt), zap.Error(err))
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > retrier.max {
			backoff = retrier.max
		}
	}
}

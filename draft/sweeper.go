// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package draft

import (
	"context"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/elnpath"
	"github.com/arclab/eln/private/sync2"
)

// Sweeper reclaims drafts whose updated_at is older than the retention
// window, together with their staged attachments. It runs as a background
// cycle; submissions are never touched.
type Sweeper struct {
	log       *zap.Logger
	store     *Store
	retention time.Duration

	Loop *sync2.Cycle
}

// NewSweeper creates a sweeper over store.
func NewSweeper(log *zap.Logger, store *Store, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		log:       log,
		store:     store,
		retention: retention,
		Loop:      sync2.NewCycle(interval),
	}
}

// Run drives the sweep until ctx is canceled.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	return sweeper.Loop.Run(ctx, sweeper.sweep)
}

// sweep deletes every expired draft. Errors on individual drafts are logged
// and skipped so one bad object cannot stall reclamation.
func (sweeper *Sweeper) sweep(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	cutoff := sweeper.store.nowFn().UTC().Add(-sweeper.retention)

	prefixes, err := sweeper.store.sopPrefixes(ctx)
	if err != nil {
		if eln.ErrIO.Has(err) {
			sweeper.log.Warn("sweep skipped, backend unavailable", zap.Error(err))
			return nil
		}
		return err
	}

	for _, prefix := range prefixes {
		keys, err := sweeper.store.backing.List(ctx, prefix)
		if err != nil {
			sweeper.log.Warn("sweep listing failed", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		for _, key := range keys {
			if strings.Contains(key, "/attachments/") {
				continue
			}
			decoded, err := elnpath.DecodeDraft(path.Base(key))
			if err != nil {
				continue
			}
			// the embedded timestamp is the creation instant; drafts
			// created after the cutoff cannot have expired yet
			if decoded.Timestamp.After(cutoff) {
				continue
			}
			body, err := sweeper.store.read(ctx, key)
			if err != nil {
				sweeper.log.Warn("unreadable draft during sweep", zap.String("key", key), zap.Error(err))
				continue
			}
			if body.UpdatedAt.After(cutoff) {
				continue
			}
			sweeper.remove(ctx, key, body)
		}
	}
	return nil
}

func (sweeper *Sweeper) remove(ctx context.Context, key string, body *Draft) {
	for _, staged := range body.StagedFiles {
		attachmentKey := elnpath.DraftAttachmentKey(body.SOPID, staged.StoredName)
		if err := sweeper.store.backing.Delete(ctx, attachmentKey); err != nil && !eln.ErrNotFound.Has(err) {
			sweeper.log.Warn("staged attachment not reclaimed", zap.String("key", attachmentKey), zap.Error(err))
		}
	}
	if err := sweeper.store.backing.Delete(ctx, key); err != nil && !eln.ErrNotFound.Has(err) {
		sweeper.log.Warn("draft not reclaimed", zap.String("key", key), zap.Error(err))
		return
	}
	sweeper.log.Info("expired draft reclaimed",
		zap.String("draft_id", body.DraftID),
		zap.String("sop_id", body.SOPID),
		zap.Time("updated_at", body.UpdatedAt))
}

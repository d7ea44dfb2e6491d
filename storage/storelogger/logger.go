// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package storelogger wraps a storage.Store with zap debug logging.
package storelogger

import (
	"context"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/arclab/eln/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements storage.Store and logs every operation. Only keys and
// sizes are logged, never payloads.
type Logger struct {
	log   *zap.Logger
	store storage.Store
}

var _ storage.Store = (*Logger)(nil)

// New creates a new Logger around store.
func New(log *zap.Logger, store storage.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log: log.Named(name), store: store}
}

// Put adds a value to store.
func (logger *Logger) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) (err error) {
	defer mon.Task()(&ctx)(&err)
	logger.log.Debug("Put", zap.String("key", key), zap.Bool("if-not-exists", opts.IfNotExists), zap.Int64("size", opts.Size))
	return logger.store.Put(ctx, key, r, opts)
}

// Get opens a value from store.
func (logger *Logger) Get(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)
	logger.log.Debug("Get", zap.String("key", key))
	return logger.store.Get(ctx, key)
}

// List lists keys under prefix.
func (logger *Logger) List(ctx context.Context, prefix string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)
	logger.log.Debug("List", zap.String("prefix", prefix))
	return logger.store.List(ctx, prefix)
}

// Delete deletes a key.
func (logger *Logger) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	logger.log.Debug("Delete", zap.String("key", key))
	return logger.store.Delete(ctx, key)
}

// Move relocates src to dst.
func (logger *Logger) Move(ctx context.Context, src, dst string) (err error) {
	defer mon.Task()(&ctx)(&err)
	logger.log.Debug("Move", zap.String("src", src), zap.String("dst", dst))
	return logger.store.Move(ctx, src, dst)
}

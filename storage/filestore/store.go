// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package filestore implements storage.Store on a local filesystem.
//
// Writes stream to a temporary file and commit by rename, so readers never
// observe partial objects. Conditional create and move are built on
// os.Link, which fails with EEXIST atomically on the same volume.
package filestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/storage"
)

// Error is the default filestore error class.
var Error = errs.Class("filestore")

var mon = monkit.Package()

const tempDir = ".tmp"

var _ storage.Store = (*Store)(nil)

// Store implements a blob store rooted at a single directory.
type Store struct {
	root string
}

// New creates a filesystem store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, tempDir), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{root: root}, nil
}

func (store *Store) abs(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", eln.ErrInvalid.Wrap(err)
	}
	return filepath.Join(store.root, filepath.FromSlash(key)), nil
}

// Put streams r into key. With opts.IfNotExists the write is exclusive.
func (store *Store) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	dst, err := store.abs(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}

	tmp, err := os.CreateTemp(filepath.Join(store.root, tempDir), "put-*")
	if err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, readerContext(ctx, r)); err != nil {
		return classifyCopy(err)
	}
	if err := tmp.Sync(); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	if err := tmp.Close(); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}

	if opts.IfNotExists {
		if err := os.Link(tmp.Name(), dst); err != nil {
			if os.IsExist(err) {
				return eln.ErrConflict.Wrap(Error.New("key %q already exists", key))
			}
			return eln.ErrIO.Wrap(Error.Wrap(err))
		}
		return Error.Wrap(os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return nil
}

// Get opens key for reading.
func (store *Store) Get(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	src, err := store.abs(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eln.ErrNotFound.Wrap(Error.New("key %q", key))
		}
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return file, nil
}

// List returns every key under prefix in lexicographic order.
func (store *Store) List(ctx context.Context, prefix string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidatePrefix(prefix); err != nil {
		return nil, eln.ErrInvalid.Wrap(err)
	}

	var keys []string
	walkErr := filepath.WalkDir(store.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			if path != store.root && entry.Name() == tempDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(store.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if walkErr != nil {
		return nil, eln.ErrIO.Wrap(Error.Wrap(walkErr))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (store *Store) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	dst, err := store.abs(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil {
		if os.IsNotExist(err) {
			return eln.ErrNotFound.Wrap(Error.New("key %q", key))
		}
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return nil
}

// Move relocates src to dst. An existing dst with identical bytes counts as
// success so that retried moves converge; different bytes fail Conflict.
func (store *Store) Move(ctx context.Context, src, dst string) (err error) {
	defer mon.Task()(&ctx)(&err)

	srcPath, err := store.abs(src)
	if err != nil {
		return err
	}
	dstPath, err := store.abs(dst)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}

	if err := os.Link(srcPath, dstPath); err != nil {
		switch {
		case os.IsNotExist(err):
			// a missing source with the destination in place is a move that
			// already completed
			if _, statErr := os.Stat(dstPath); statErr == nil {
				return nil
			}
			return eln.ErrNotFound.Wrap(Error.New("key %q", src))
		case os.IsExist(err):
			same, cmpErr := sameContents(srcPath, dstPath)
			if cmpErr != nil {
				return eln.ErrIO.Wrap(Error.Wrap(cmpErr))
			}
			if !same {
				return eln.ErrConflict.Wrap(Error.New("key %q already exists with different contents", dst))
			}
		default:
			return eln.ErrIO.Wrap(Error.Wrap(err))
		}
	}
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return nil
}

func sameContents(a, b string) (bool, error) {
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

func classifyCopy(err error) error {
	if eln.ErrTooLarge.Has(err) {
		return err
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return eln.ErrIO.Wrap(err)
	}
	return eln.ErrIO.Wrap(Error.Wrap(err))
}

// readerContext makes long copies observe cancellation at read boundaries.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

// Package s3store implements storage.Store on an S3-compatible blob store.
//
// Conditional create uses If-None-Match, which S3 evaluates atomically.
// Move is copy-then-delete: the copy is preceded by a conditional existence
// check on the destination and the delete of the source is best-effort (a
// leaked source object is reclaimed by the draft TTL sweep).
package s3store

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/arclab/eln/eln"
	"github.com/arclab/eln/storage"
)

// Error is the default s3store error class.
var Error = errs.Class("s3store")

var mon = monkit.Package()

var _ storage.Store = (*Store)(nil)

// Store implements a blob store on a single bucket and key prefix.
type Store struct {
	log    *zap.Logger
	client *s3.Client
	bucket string
	prefix string
}

// New creates a store on client rooted at bucket/prefix.
func New(log *zap.Logger, client *s3.Client, bucket, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{log: log, client: client, bucket: bucket, prefix: prefix}
}

// Open dials the default AWS configuration and creates a store.
func Open(ctx context.Context, log *zap.Logger, region, bucket, prefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return New(log, s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (store *Store) object(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", eln.ErrInvalid.Wrap(err)
	}
	return store.prefix + key, nil
}

// Put streams r into key. With opts.IfNotExists the write is conditional on
// the key being absent.
func (store *Store) Put(ctx context.Context, key string, r io.Reader, opts storage.PutOptions) (err error) {
	defer mon.Task()(&ctx)(&err)

	object, err := store.object(key)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(object),
		Body:   r,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.Size >= 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}
	if opts.IfNotExists {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := store.client.PutObject(ctx, input); err != nil {
		if isPreconditionFailed(err) {
			return eln.ErrConflict.Wrap(Error.New("key %q already exists", key))
		}
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return nil
}

// Get opens key for reading.
func (store *Store) Get(ctx context.Context, key string) (_ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	object, err := store.object(key)
	if err != nil {
		return nil, err
	}
	out, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, eln.ErrNotFound.Wrap(Error.New("key %q", key))
		}
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return out.Body, nil
}

// List returns every key under prefix in lexicographic order.
func (store *Store) List(ctx context.Context, prefix string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := storage.ValidatePrefix(prefix); err != nil {
		return nil, eln.ErrInvalid.Wrap(err)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(store.bucket),
		Prefix: aws.String(store.prefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, eln.ErrIO.Wrap(Error.Wrap(err))
		}
		for _, object := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(object.Key), store.prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (store *Store) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	object, err := store.object(key)
	if err != nil {
		return err
	}
	if _, err := store.stat(ctx, object); err != nil {
		return err
	}
	if _, err := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(object),
	}); err != nil {
		return eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return nil
}

// Move relocates src to dst as copy-then-delete. The copy happens only when
// dst is absent or already holds the same object (same ETag and size), which
// keeps retried moves idempotent. A failed source delete is logged and left
// for the sweep; the move still counts as committed.
func (store *Store) Move(ctx context.Context, src, dst string) (err error) {
	defer mon.Task()(&ctx)(&err)

	srcObject, err := store.object(src)
	if err != nil {
		return err
	}
	dstObject, err := store.object(dst)
	if err != nil {
		return err
	}

	srcHead, err := store.stat(ctx, srcObject)
	if err != nil {
		if eln.ErrNotFound.Has(err) {
			// A vanished source with an existing destination is a
			// completed earlier move.
			if _, dstErr := store.stat(ctx, dstObject); dstErr == nil {
				return nil
			}
			return eln.ErrNotFound.Wrap(Error.New("key %q", src))
		}
		return err
	}

	if dstHead, err := store.stat(ctx, dstObject); err == nil {
		same := aws.ToString(dstHead.ETag) == aws.ToString(srcHead.ETag) &&
			aws.ToInt64(dstHead.ContentLength) == aws.ToInt64(srcHead.ContentLength)
		if !same {
			return eln.ErrConflict.Wrap(Error.New("key %q already exists with different contents", dst))
		}
	} else if !eln.ErrNotFound.Has(err) {
		return err
	} else {
		if _, err := store.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(store.bucket),
			Key:        aws.String(dstObject),
			CopySource: aws.String(store.bucket + "/" + url.PathEscape(srcObject)),
		}); err != nil {
			return eln.ErrIO.Wrap(Error.Wrap(err))
		}
	}

	if _, err := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(srcObject),
	}); err != nil {
		store.log.Warn("source delete after copy failed, leaving for sweep",
			zap.String("key", src), zap.Error(err))
	}
	return nil
}

func (store *Store) stat(ctx context.Context, object string) (*s3.HeadObjectOutput, error) {
	out, err := store.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(object),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, eln.ErrNotFound.Wrap(Error.New("object %q", object))
		}
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	return out, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

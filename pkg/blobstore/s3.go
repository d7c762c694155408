package blobstore

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/minio/minio-go/v7"
	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// S3 is the Blob Backend variant backed by an HTTP(S) object store reached
// through the S3 API (spec §4.2's "Remote object store" variant). PutObject
// is idempotent by construction (the key is a content digest, so retrying a
// failed-but-maybe-landed PUT never corrupts data) and is retried with
// exponential backoff and jitter.
type S3 struct {
	client *minio.Client
	bucket string
	newBackOff func() backoff.BackOff
}

// NewS3 returns an S3 backend writing into bucket via client. The bucket
// must already exist; bucket lifecycle is outside the backend's contract.
func NewS3(client *minio.Client, bucket string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

func (s *S3) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, backoff.WithContext(s.newBackOff(), ctx))
}

// Put implements Backend.
func (s *S3) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return errtypes.Internal("buffer blob for upload: " + err.Error())
	}
	return s.retry(ctx, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(buf), int64(len(buf)), minio.PutObjectOptions{})
		return err
	})
}

// PutIfAbsent implements Backend.
func (s *S3) PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64) (bool, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Put(ctx, key, r, size); err != nil {
		return false, err
	}
	return true, nil
}

// Get implements Backend.
func (s *S3) Get(ctx context.Context, key string, rangeStart, rangeLen int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if rangeLen >= 0 {
		if err := opts.SetRange(rangeStart, rangeStart+rangeLen-1); err != nil {
			return nil, errtypes.InvalidArgument("invalid byte range: " + err.Error())
		}
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, mapMinioErr(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapMinioErr(key, err)
	}
	return obj, nil
}

// Delete implements Backend.
func (s *S3) Delete(ctx context.Context, key string) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound(key)
	}
	return s.retry(ctx, func() error {
		return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
}

// Exists implements Backend.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return false, nil
	}
	return false, errtypes.Internal("stat blob: " + err.Error())
}

// Stat implements Backend.
func (s *S3) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, mapMinioErr(key, err)
	}
	return info.Size, nil
}

func mapMinioErr(key string, err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return ErrNotFound(key)
	}
	return errtypes.Internal("s3 backend: " + err.Error())
}

package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johndauphine/mssql-warehouse-loader/internal/logging"
)

var log = logging.For("stage")

// Uploader pushes compressed artifacts to a Store with bounded retry.
type Uploader struct {
	store  Store
	policy RetryPolicy
}

// NewUploader creates an uploader for store using policy.
func NewUploader(store Store, policy RetryPolicy) *Uploader {
	return &Uploader{store: store, policy: policy}
}

// Store returns the underlying store.
func (u *Uploader) Store() Store {
	return u.store
}

// Upload puts localPath under key, retrying per the policy. On success the
// local file is removed. A missing local file is not retried.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}

	attempts := 0
	op := func() error {
		attempts++
		err := u.store.Put(ctx, localPath, key)
		if err != nil && errors.Is(err, os.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("upload of %s failed (attempt %d/%d), retrying in %s: %s",
			key, attempts, u.policy.MaxAttempts, wait, logging.Truncate(err, logging.DefaultTruncate))
	}

	if err := backoff.RetryNotify(op, u.policy.BackOff(ctx), notify); err != nil {
		return fmt.Errorf("uploading %s after %d attempt(s): %w", key, attempts, err)
	}

	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		log.Warn("could not remove uploaded artifact %s: %v", localPath, err)
	}
	return nil
}

// Package transport moves one backup artifact from a local path to a
// (possibly remote) backup_path and back, retrying on failure. Transport is
// the only component permitted to produce a non-retryable runtime error for
// I/O — every other component falls back or propagates instead of retrying.
package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// CopyOptions configures one Copy call.
type CopyOptions struct {
	// Retries is the number of attempts beyond the first.
	Retries int
	// PauseSeconds is slept between attempts.
	PauseSeconds int
	// RelativePaths preserves the relative directory structure on the
	// destination side (rsync -R) rather than copying to a flat file;
	// directories additionally set Dir (rsync -Rd).
	RelativePaths bool
	Dir           bool
	// RateLimitKBps caps transfer bandwidth; 0 means unlimited.
	RateLimitKBps int
	// ExtraArgs are appended verbatim to an rsync invocation (the CLI's -R
	// rsync_args flag, default "-v").
	ExtraArgs []string
}

// Transport copies src to dst, retrying per opts on failure.
type Transport interface {
	Copy(ctx context.Context, src, dst string, opts CopyOptions) error
}

// retry runs attempt up to opts.Retries+1 times, sleeping PauseSeconds
// between attempts, and wraps the final failure as non-retryable.
func retry(ctx context.Context, opts CopyOptions, attempt func() error) error {
	var lastErr error
	for try := 0; try <= opts.Retries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "transport: cancelled during retry pause")
			case <-time.After(time.Duration(opts.PauseSeconds) * time.Second):
			}
		}
		if lastErr = attempt(); lastErr == nil {
			return nil
		}
	}
	return errors.Wrapf(lastErr, "transport: exhausted %d retries", opts.Retries)
}

// LocalTransport copies between two local filesystem paths, used when
// backup_path and pgdata are both plain local paths (the common case for
// tests and single-host setups).
type LocalTransport struct{}

func (LocalTransport) Copy(ctx context.Context, src, dst string, opts CopyOptions) error {
	return retry(ctx, opts, func() error {
		if opts.Dir {
			return os.MkdirAll(dst, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "transport: mkdir %s", filepath.Dir(dst))
		}
		in, err := os.Open(src)
		if err != nil {
			return errors.Wrapf(err, "transport: open %s", src)
		}
		defer in.Close()

		out, err := os.Create(dst)
		if err != nil {
			return errors.Wrapf(err, "transport: create %s", dst)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return errors.Wrapf(err, "transport: copy %s -> %s", src, dst)
		}
		if err := out.Sync(); err != nil {
			out.Close()
			return errors.Wrapf(err, "transport: fsync %s", dst)
		}
		return out.Close()
	})
}

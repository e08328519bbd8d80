package transport

import (
	"context"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
)

// RsyncTransport shells out to the rsync binary, the way pgclone's
// orchestrator drives its initial and parallel pgdata copies: an explicit
// argv built per call, errors wrapped with the combined stderr/stdout
// output attached for diagnosis.
type RsyncTransport struct{}

func (RsyncTransport) Copy(ctx context.Context, src, dst string, opts CopyOptions) error {
	return retry(ctx, opts, func() error {
		args := buildArgs(opts)
		args = append(args, src, dst)

		cmd := exec.CommandContext(ctx, "rsync", args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return errors.Wrapf(err, "rsync %s -> %s: %s", src, dst, out)
		}
		return nil
	})
}

func buildArgs(opts CopyOptions) []string {
	var args []string
	if opts.RelativePaths {
		if opts.Dir {
			args = append(args, "-Rd")
		} else {
			args = append(args, "-R")
		}
	}
	if opts.RateLimitKBps > 0 {
		args = append(args, "--bwlimit", strconv.Itoa(opts.RateLimitKBps))
	}
	args = append(args, opts.ExtraArgs...)
	return args
}

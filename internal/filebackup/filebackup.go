// Package filebackup implements the per-file incremental-or-full backup
// algorithm: stream a file through StreamCodec, optionally as an
// ArtifactCodec-prefixed selection of changed pages, and hand the result to
// Transport.
package filebackup

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/pgib/internal/artifact"
	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/page"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/streamcodec"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
)

// Result is the outcome of one Backup call.
type Result struct {
	Path    string
	Success bool
}

// Backup backs up pgdata/path into backup_path/path, choosing between the
// unchanged-file shortcut, a full-mode copy, and incremental (changed-page)
// mode, falling back to full on any page-format surprise. Any failure is
// logged and reported via Result.Success=false rather than returned as an
// error, matching the "backup one file should never take down the whole
// run" contract; TreeDriver decides fatal-vs-recoverable from the result.
func Backup(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger, path string) Result {
	log = log.WithFields("path", path)

	if err := backup(ctx, cfg, tr, log, path); err != nil {
		log.Error("backup failed", "error", err.Error())
		return Result{Path: path, Success: false}
	}
	return Result{Path: path, Success: true}
}

func backup(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger, path string) error {
	srcPath := filepath.Join(cfg.DataDir, path)
	tmpPath := filepath.Join(cfg.TmpDir, path)
	dstPath := filepath.Join(cfg.BackupPath, path)

	if streamcodec.ForcesNone(path) {
		cfg = cfg.WithCompress("none")
	}
	codec, err := streamcodec.Parse(cfg.Compress)
	if err != nil {
		return errors.Wrap(err, "filebackup: parse compress spec")
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return errors.Wrapf(err, "filebackup: stat %s", srcPath)
	}
	fileSize := info.Size()
	origSize, hadPrior := cfg.InputFileList[path]

	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return errors.Wrapf(err, "filebackup: mkdir %s", filepath.Dir(tmpPath))
	}
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "filebackup: create %s", tmpPath)
	}
	defer os.Remove(tmpPath)

	writeErr := func() error {
		defer tmp.Close()

		switch {
		case cfg.HasLSN && hadPrior && fileSize == origSize && cfg.After != 0 && info.ModTime().Unix() < cfg.After:
			return writeUnchanged(tmp, codec, cfg.Magic)
		case !cfg.HasLSN:
			return writeFull(tmp, codec, srcPath)
		default:
			return writeIncrementalOrFallback(ctx, cfg, tr, log, tmp, codec, srcPath, path)
		}
	}()
	if writeErr != nil {
		return writeErr
	}

	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(err, "filebackup: fsync %s", tmpPath)
	}

	if err := tr.Copy(ctx, tmpPath, dstPath, transport.CopyOptions{
		Retries:       cfg.Retries,
		PauseSeconds:  cfg.PauseSeconds,
		RelativePaths: true,
		RateLimitKBps: cfg.WorkerBandwidthKBps(path),
		ExtraArgs:     cfg.RsyncArgs,
	}); err != nil {
		return errors.Wrap(err, "filebackup: transport")
	}
	return nil
}

func writeUnchanged(w io.Writer, codec streamcodec.Codec, magic uint32) error {
	cw, err := codec.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "filebackup: new writer")
	}
	defer cw.Close()
	return artifact.WriteFullPrefix(cw, magic)
}

func writeFull(w io.Writer, codec streamcodec.Codec, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "filebackup: open %s", srcPath)
	}
	defer src.Close()

	cw, err := codec.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "filebackup: new writer")
	}
	if _, err := io.Copy(cw, src); err != nil {
		cw.Close()
		return errors.Wrapf(err, "filebackup: stream %s", srcPath)
	}
	return errors.Wrap(cw.Close(), "filebackup: close writer")
}

// writeIncrementalOrFallback scans the file page by page, falling back to a
// full-mode write on the first short read or invalid page header.
func writeIncrementalOrFallback(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger, w io.Writer, codec streamcodec.Codec, srcPath, relPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "filebackup: open %s", srcPath)
	}
	defer src.Close()

	B := cfg.BlockSize
	buf := make([]byte, B)
	var changedPages []uint32

	for n := uint32(0); ; n++ {
		nr, rerr := io.ReadFull(src, buf)
		if rerr == io.EOF {
			break
		}
		if rerr == io.ErrUnexpectedEOF {
			log.Info("short read during page scan, falling back to full", "block", n, "read", nr)
			return writeFull(w, codec, srcPath)
		}
		if rerr != nil {
			return errors.Wrapf(rerr, "filebackup: read block %d of %s", n, srcPath)
		}

		correct, lsn := page.Parse(buf, B)
		if !correct {
			log.Info("invalid page header, falling back to full", "block", n)
			return writeFull(w, codec, srcPath)
		}
		if lsn >= cfg.LSN {
			changedPages = append(changedPages, n)
		}
	}

	cw, err := codec.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "filebackup: new writer")
	}
	if err := artifact.WritePrefix(cw, cfg.Magic, changedPages); err != nil {
		cw.Close()
		return err
	}
	for _, n := range changedPages {
		if _, err := src.Seek(int64(n)*int64(B), io.SeekStart); err != nil {
			cw.Close()
			return errors.Wrapf(err, "filebackup: seek block %d", n)
		}
		if _, err := io.CopyN(cw, src, int64(B)); err != nil {
			cw.Close()
			return errors.Wrapf(err, "filebackup: reread block %d", n)
		}
	}
	return errors.Wrap(cw.Close(), "filebackup: close writer")
}

// Package treedriver walks a data directory, dispatches each entry to
// FileBackup/FileRestore (or a directory-materialization job) on a bounded
// worker pool, and assembles the resulting manifest.
package treedriver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/pgib/internal/filebackup"
	"github.com/KilimcininKorOglu/pgib/internal/filerestore"
	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/manifest"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
)

// fileResult is one dispatched job's outcome, harvested after every worker
// finishes; only the driver ever touches the accumulated manifest.
type fileResult struct {
	relPath string
	dir     bool
	success bool
}

// BackupTree walks cfg.DataDir rooted at walkRoot (pgdata itself, or a
// tablespace target), skipping processed and excluded paths, dispatching
// FileBackup according to the .conf/input-file-list/forced-full rules.
// processed records every relative path this call dispatches, for the
// caller to fold into a shared skip set (tablespaces living inside pgdata
// must not be double-processed).
func BackupTree(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger, walkRoot string, relPrefix string, processedFileList map[string]bool, startTime time.Time) ([]manifest.Entry, []string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)

	var mu sync.Mutex
	var results []fileResult
	var fatalErr error
	var processedHere []string

	err := filepath.WalkDir(walkRoot, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(walkRoot, absPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		relPath := rel
		if relPrefix != "" {
			relPath = filepath.Join(relPrefix, rel)
		}
		matchPath := relPath
		if d.IsDir() {
			matchPath += "/"
		}

		if processedFileList[matchPath] {
			return skipDir(d)
		}
		if matchesExclude(matchPath, cfg.Exclude) {
			return skipDir(d)
		}

		mu.Lock()
		processedHere = append(processedHere, matchPath)
		mu.Unlock()

		if d.IsDir() {
			relPath := relPath
			g.Go(func() error {
				res := materializeDir(gctx, cfg, tr, relPath)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		fileCfg := dispatchConfig(cfg, relPath)
		preexisting := ctime(info).Before(startTime)

		g.Go(func() error {
			result := filebackup.Backup(gctx, fileCfg, tr, log, relPath)
			mu.Lock()
			results = append(results, fileResult{relPath: relPath, success: result.Success})
			if !result.Success && preexisting {
				if fatalErr == nil {
					fatalErr = errors.Errorf("treedriver: pre-existing file %s failed to back up", relPath)
				}
			}
			mu.Unlock()
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "treedriver: walk")
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "treedriver: worker pool")
	}
	if fatalErr != nil {
		return nil, nil, fatalErr
	}

	entries := harvestBackup(cfg, log, results)
	return entries, processedHere, nil
}

// RestoreTree dispatches FileRestore for every non-directory manifest entry
// and materializes every directory entry.
func RestoreTree(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger, entries []manifest.Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallel)

	for _, e := range entries {
		e := e
		if e.Dir {
			g.Go(func() error {
				return errors.Wrapf(os.MkdirAll(filepath.Join(cfg.DataDir, e.Path), 0o755), "treedriver: mkdir %s", e.Path)
			})
			continue
		}
		fileCfg := dispatchRestoreConfig(cfg, e.Path)
		g.Go(func() error {
			if _, err := filerestore.Restore(gctx, fileCfg, tr, log, e.Path); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// dispatchConfig applies the regular-file dispatch rules: .conf files are
// always forced full and uncompressed, a file already in the prior
// manifest keeps the configured LSN watermark, anything new is forced
// full.
func dispatchConfig(cfg runconfig.Config, relPath string) runconfig.Config {
	if strings.HasSuffix(relPath, ".conf") {
		return cfg.WithoutLSN().WithCompress("none")
	}
	if _, ok := cfg.InputFileList[relPath]; ok {
		return cfg
	}
	return cfg.WithoutLSN()
}

func dispatchRestoreConfig(cfg runconfig.Config, relPath string) runconfig.Config {
	if strings.HasSuffix(relPath, ".conf") {
		return cfg.WithCompress("none")
	}
	return cfg
}

func materializeDir(ctx context.Context, cfg runconfig.Config, tr transport.Transport, relPath string) fileResult {
	dst := filepath.Join(cfg.BackupPath, relPath)
	err := tr.Copy(ctx, "", dst, transport.CopyOptions{
		Retries:       cfg.Retries,
		PauseSeconds:  cfg.PauseSeconds,
		RelativePaths: true,
		Dir:           true,
	})
	return fileResult{relPath: relPath, dir: true, success: err == nil}
}

// harvestBackup drops failed files from the manifest (logging each one, on
// the assumption WAL replay will recreate it) and builds the output
// manifest from the rest. The fatal case is recorded during dispatch, above;
// BackupTree returns it once the pool has drained, without building a
// manifest.
func harvestBackup(cfg runconfig.Config, log logging.Logger, results []fileResult) []manifest.Entry {
	entries := make([]manifest.Entry, 0, len(results))
	for _, r := range results {
		if !r.success {
			log.Info("dropping file from manifest, should appear on wal apply", "path", r.relPath)
			continue
		}
		if r.dir {
			entries = append(entries, manifest.Entry{Path: r.relPath, Dir: true})
			continue
		}
		info, err := os.Stat(filepath.Join(cfg.DataDir, r.relPath))
		if err != nil {
			log.Info("file seems deleted during backup", "path", r.relPath)
			continue
		}
		entries = append(entries, manifest.Entry{Path: r.relPath, Size: info.Size()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

func matchesExclude(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

func skipDir(d fs.DirEntry) error {
	if d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

// PruneExtraneous deletes any file or directory under cfg.DataDir that is
// not named in entries, skipping anything under a suppress-path (a
// tablespace relocation symlink or a tablespace target restored by its own
// traversal).
func PruneExtraneous(cfg runconfig.Config, entries []manifest.Entry, suppress []string) error {
	keep := manifest.Map(entries)
	dirKeep := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Dir {
			dirKeep[strings.TrimSuffix(e.Path, "/")] = true
		}
	}

	return filepath.WalkDir(cfg.DataDir, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cfg.DataDir, absPath)
		if err != nil || rel == "." {
			return err
		}
		for _, s := range suppress {
			if rel == s || strings.HasPrefix(rel, s+string(filepath.Separator)) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		relSlash := filepath.ToSlash(rel)
		if d.IsDir() {
			if dirKeep[relSlash] {
				return nil
			}
			if hasDescendantKept(relSlash, keep, dirKeep) {
				return nil
			}
			if err := os.RemoveAll(absPath); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		if _, ok := keep[relSlash]; ok {
			return nil
		}
		return os.Remove(absPath)
	})
}

func hasDescendantKept(dir string, keep map[string]int64, dirKeep map[string]bool) bool {
	prefix := dir + "/"
	for p := range keep {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for p := range dirKeep {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

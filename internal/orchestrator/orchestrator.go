// Package orchestrator drives a complete backup or restore run: it fetches
// the prior manifest, walks tablespaces and pgdata via TreeDriver, finalizes
// pg_control/backup_label under strict ordering guarantees, and writes or
// consumes the run's manifest.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/pgib/internal/filebackup"
	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/manifest"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
	"github.com/KilimcininKorOglu/pgib/internal/treedriver"
)

const (
	pgControlPath  = "global/pg_control"
	backupLabel    = "backup_label"
	fileListName   = "file.list"
	pgTblspcSubdir = "pg_tblspc"
)

// Backup runs the full backup sequence against cfg, using tr to move
// artifacts to/from cfg.BackupPath: fetch the prior manifest (incremental
// only), walk tablespaces then pgdata, force-full the configured include
// files, back up pg_control last as a fencepost, then write and upload the
// manifest.
func Backup(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	startTime := time.Now()
	cfg = cfg.WithStartTime(startTime.Unix())

	if cfg.FileList != "" {
		inputList, err := fetchManifest(ctx, cfg, tr, cfg.FileList)
		if err != nil {
			return errors.Wrap(err, "orchestrator: fetch prior manifest")
		}
		cfg = cfg.WithInputFileList(manifest.Map(inputList))
	}

	// pg_control is backed up on its own after every other file, so the
	// pgdata walk must not dispatch it.
	processed := map[string]bool{pgControlPath: true}
	var entries []manifest.Entry

	for _, tbs := range cfg.Tablespaces {
		linkPath := filepath.Join(cfg.DataDir, pgTblspcSubdir, tbs.Name)
		if err := validateOrCreateSymlink(linkPath, tbs.Path); err != nil {
			return errors.Wrapf(err, "orchestrator: tablespace %s", tbs.Name)
		}
		tbsEntries, tbsProcessed, err := treedriver.BackupTree(ctx, cfg, tr, log, tbs.Path, filepath.Join(pgTblspcSubdir, tbs.Name), processed, startTime)
		if err != nil {
			return errors.Wrapf(err, "orchestrator: backup tablespace %s", tbs.Name)
		}
		entries = append(entries, tbsEntries...)
		for _, p := range tbsProcessed {
			processed[p] = true
		}
		// A tablespace stored inside pgdata was just walked under its
		// pg_tblspc name; keep the pgdata walk out of its target directory.
		if isUnder(tbs.Path, cfg.DataDir) {
			if rel, err := filepath.Rel(cfg.DataDir, tbs.Path); err == nil {
				processed[rel+"/"] = true
			}
		}
	}

	pgdataEntries, pgdataProcessed, err := treedriver.BackupTree(ctx, cfg, tr, log, cfg.DataDir, "", processed, startTime)
	if err != nil {
		return errors.Wrap(err, "orchestrator: backup pgdata")
	}
	entries = append(entries, pgdataEntries...)
	for _, p := range pgdataProcessed {
		processed[p] = true
	}

	for _, abs := range cfg.IncludeFiles {
		rel, err := filepath.Rel(cfg.DataDir, abs)
		if err != nil {
			return errors.Wrapf(err, "orchestrator: include file %s", abs)
		}
		fileCfg := cfg.WithoutLSN().WithCompress("none")
		result := filebackup.Backup(ctx, fileCfg, tr, log, rel)
		if !result.Success {
			return errors.Errorf("orchestrator: include file %s failed to back up", rel)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return errors.Wrapf(err, "orchestrator: stat include file %s", abs)
		}
		entries = append(entries, manifest.Entry{Path: rel, Size: info.Size()})
	}

	pgControlResult := filebackup.Backup(ctx, cfg.WithoutLSN(), tr, log, pgControlPath)
	if !pgControlResult.Success {
		return errors.New("orchestrator: pg_control backup failed, run aborted")
	}
	info, err := os.Stat(filepath.Join(cfg.DataDir, pgControlPath))
	if err != nil {
		return errors.Wrap(err, "orchestrator: stat pg_control")
	}
	entries = append(entries, manifest.Entry{Path: pgControlPath, Size: info.Size()})

	if err := writeManifest(ctx, cfg, tr, entries); err != nil {
		return errors.Wrap(err, "orchestrator: write manifest")
	}

	return errors.Wrap(os.RemoveAll(cfg.TmpDir), "orchestrator: remove tmpdir")
}

// Restore runs the full restore sequence against cfg: materialize
// tablespace symlinks, fetch and parse the manifest, dispatch FileRestore
// per entry, prune anything extraneous, fetch backup_label if it isn't
// already present, then remove the tmpdir.
func Restore(ctx context.Context, cfg runconfig.Config, tr transport.Transport, log logging.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return errors.Wrap(err, "orchestrator: mkdir tmpdir")
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, pgTblspcSubdir), 0o755); err != nil {
		return errors.Wrap(err, "orchestrator: mkdir pg_tblspc")
	}

	if err := materializeTablespaces(cfg); err != nil {
		return errors.Wrap(err, "orchestrator: materialize tablespaces")
	}

	entries, err := fetchManifest(ctx, cfg, tr, fileListName)
	if err != nil {
		return errors.Wrap(err, "orchestrator: fetch manifest")
	}
	cfg = cfg.WithInputFileList(manifest.Map(entries))

	if err := treedriver.RestoreTree(ctx, cfg, tr, log, entries); err != nil {
		return errors.Wrap(err, "orchestrator: restore tree")
	}

	// pg_tblspc itself holds symlinks materialized above, not manifest
	// entries; never let PruneExtraneous treat them as extraneous.
	suppress := []string{pgTblspcSubdir}
	for _, tbs := range cfg.Tablespaces {
		if isUnder(tbs.Path, cfg.DataDir) {
			rel, err := filepath.Rel(cfg.DataDir, tbs.Path)
			if err == nil {
				suppress = append(suppress, rel)
			}
		}
	}
	if err := treedriver.PruneExtraneous(cfg, entries, suppress); err != nil {
		return errors.Wrap(err, "orchestrator: prune extraneous")
	}

	localLabel := filepath.Join(cfg.DataDir, backupLabel)
	if _, statErr := os.Stat(localLabel); os.IsNotExist(statErr) {
		if err := fetchFile(ctx, cfg, tr, backupLabel); err != nil {
			return errors.Wrap(err, "orchestrator: fetch backup_label, run aborted")
		}
	} else if statErr != nil {
		return errors.Wrap(statErr, "orchestrator: stat backup_label")
	}

	return errors.Wrap(os.RemoveAll(cfg.TmpDir), "orchestrator: remove tmpdir")
}

// fetchManifest fetches name from cfg.BackupPath into tmpdir and parses it.
func fetchManifest(ctx context.Context, cfg runconfig.Config, tr transport.Transport, name string) ([]manifest.Entry, error) {
	tmpPath := filepath.Join(cfg.TmpDir, filepath.Base(name))
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return nil, err
	}
	src := filepath.Join(cfg.BackupPath, name)
	if err := tr.Copy(ctx, src, tmpPath, transport.CopyOptions{Retries: cfg.Retries, PauseSeconds: cfg.PauseSeconds}); err != nil {
		return nil, errors.Wrapf(err, "fetch %s", name)
	}
	defer os.Remove(tmpPath)

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return manifest.Decode(f)
}

// fetchFile fetches a single named file (backup_label) from cfg.BackupPath
// directly into cfg.DataDir.
func fetchFile(ctx context.Context, cfg runconfig.Config, tr transport.Transport, name string) error {
	src := filepath.Join(cfg.BackupPath, name)
	dst := filepath.Join(cfg.DataDir, name)
	return tr.Copy(ctx, src, dst, transport.CopyOptions{Retries: cfg.Retries, PauseSeconds: cfg.PauseSeconds})
}

// writeManifest encodes entries and transports the result as file.list. The
// caller must only reach this after pg_control has already succeeded, so a
// failed run never leaves behind a manifest claiming a backup it didn't
// finish.
func writeManifest(ctx context.Context, cfg runconfig.Config, tr transport.Transport, entries []manifest.Entry) error {
	tmpPath := filepath.Join(cfg.TmpDir, fileListName)
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := manifest.Encode(f, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	dst := filepath.Join(cfg.BackupPath, fileListName)
	return tr.Copy(ctx, tmpPath, dst, transport.CopyOptions{Retries: cfg.Retries, PauseSeconds: cfg.PauseSeconds})
}

// validateOrCreateSymlink ensures pgdata/pg_tblspc/<name> points at path,
// recreating the symlink if it is missing or points elsewhere.
func validateOrCreateSymlink(linkPath, path string) error {
	target, err := os.Readlink(linkPath)
	if err == nil && target == path {
		return nil
	}
	if err == nil && target != path {
		if rmErr := os.Remove(linkPath); rmErr != nil {
			return rmErr
		}
	}
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return err
	}
	return os.Symlink(path, linkPath)
}

// materializeTablespaces recreates every configured tablespace symlink
// under pgdata/pg_tblspc, removing any stale entry not present in cfg.
func materializeTablespaces(cfg runconfig.Config) error {
	dir := filepath.Join(cfg.DataDir, pgTblspcSubdir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return err
		}
	}

	wanted := make(map[string]string, len(cfg.Tablespaces))
	for _, tbs := range cfg.Tablespaces {
		wanted[tbs.Name] = tbs.Path
	}

	for _, e := range entries {
		if _, ok := wanted[e.Name()]; !ok {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	for _, tbs := range cfg.Tablespaces {
		if err := validateOrCreateSymlink(filepath.Join(dir, tbs.Name), tbs.Path); err != nil {
			return err
		}
	}
	return nil
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

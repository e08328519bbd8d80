package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/orchestrator"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
)

// backupCmd handles the backup command.
func backupCmd(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := runconfig.Defaults()

	dataDir := fs.String("D", cfg.DataDir, "data directory root")
	backupPath := fs.String("b", "", "remote/local backup root (required)")
	lsn := fs.Uint64("l", 0, "incremental watermark (0 = full backup)")
	after := fs.Int64("a", 0, "unix-time mtime cutoff for unchanged shortcut")
	compress := fs.String("c", cfg.Compress, "none|gzip[-L]|bzip2[-L]|lzma[-L]")
	tmpDir := fs.String("t", cfg.TmpDir, "scratch directory")
	exclude := fs.String("e", "", "comma-separated exclude globs")
	retries := fs.Int("r", cfg.Retries, "transport retries")
	pause := fs.Int("s", cfg.PauseSeconds, "seconds between retries")
	fileList := fs.String("f", "", "prior manifest URL (incremental backup)")
	parallel := fs.Int("p", cfg.Parallel, "worker count")
	tablespaces := fs.String("T", "", "name:path,... tablespace relocations")
	blockSize := fs.Int("Z", cfg.BlockSize, "page size in bytes")
	magic := fs.Uint("m", uint(cfg.Magic), "artifact magic u32")
	bandwidth := fs.Int("w", 0, "global KB/s cap")
	tablespaceBW := fs.String("W", "", "name:KBps,... per-tablespace bandwidth override")
	includeFiles := fs.String("i", "", "comma-separated absolute paths to force-full backup")
	rsyncArgs := fs.String("R", "-v", "transport extra args")
	verbosity := fs.Int("v", 0, "verbosity count (0 = info, 1 or more = debug)")
	help := fs.Bool("h", false, "show help message")
	helpLong := fs.Bool("help", false, "show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printBackupUsage(os.Stdout)
		return 0
	}

	cfg.DataDir = *dataDir
	cfg.BackupPath = *backupPath
	cfg.After = *after
	cfg.Compress = *compress
	cfg.TmpDir = *tmpDir
	cfg.Retries = *retries
	cfg.PauseSeconds = *pause
	cfg.FileList = *fileList
	cfg.Parallel = *parallel
	cfg.BlockSize = *blockSize
	cfg.Magic = uint32(*magic)
	cfg.BandwidthKBps = *bandwidth
	cfg.IncludeFiles = runconfig.ParseIncludeFiles(*includeFiles)
	cfg.Exclude = runconfig.ParseExclude(*exclude)
	cfg.Verbosity = *verbosity
	if cfg.Exclude == nil {
		cfg.Exclude = runconfig.Defaults().Exclude
	}
	if *rsyncArgs != "" {
		cfg.RsyncArgs = []string{*rsyncArgs}
	}
	if *lsn != 0 {
		cfg = cfg.WithLSN(*lsn)
	}

	tbs, err := runconfig.ParseTablespaces(*tablespaces)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Tablespaces = tbs

	bw, err := runconfig.ParseBandwidthOverrides(*tablespaceBW)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.TablespaceBW = bw

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:  logging.LevelFromVerbosity(cfg.Verbosity),
		Format: logging.FormatText,
		Output: os.Stderr,
	})

	fmt.Printf("Creating backup...\n")
	fmt.Printf("  Data dir:    %s\n", cfg.DataDir)
	fmt.Printf("  Backup path: %s\n", cfg.BackupPath)
	fmt.Printf("  Mode:        %s\n", backupModeString(cfg))
	fmt.Printf("  Compress:    %s\n", cfg.Compress)
	fmt.Printf("  Parallel:    %d\n", cfg.Parallel)

	start := time.Now()
	tr := transport.RsyncTransport{}
	if err := orchestrator.Backup(context.Background(), cfg, tr, log); err != nil {
		fmt.Fprintf(os.Stderr, "Backup failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nBackup completed successfully!\n")
	fmt.Printf("  Duration: %v\n", time.Since(start).Round(time.Millisecond))
	if size, err := dirSize(cfg.BackupPath); err == nil {
		fmt.Printf("  Size:     %s\n", humanize.IBytes(uint64(size)))
	}

	return 0
}

func backupModeString(cfg runconfig.Config) string {
	if cfg.HasLSN {
		return fmt.Sprintf("incremental (lsn=%d)", cfg.LSN)
	}
	return "full"
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/orchestrator"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
)

// restoreCmd handles the restore command.
func restoreCmd(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cfg := runconfig.Defaults()

	dataDir := fs.String("D", cfg.DataDir, "data directory root to restore into")
	backupPath := fs.String("b", "", "remote/local backup root (required)")
	compress := fs.String("c", cfg.Compress, "none|gzip[-L]|bzip2[-L]|lzma[-L]")
	tmpDir := fs.String("t", cfg.TmpDir, "scratch directory")
	retries := fs.Int("r", cfg.Retries, "transport retries")
	pause := fs.Int("s", cfg.PauseSeconds, "seconds between retries")
	parallel := fs.Int("p", cfg.Parallel, "worker count")
	tablespaces := fs.String("T", "", "name:path,... tablespace relocations")
	blockSize := fs.Int("Z", cfg.BlockSize, "page size in bytes")
	magic := fs.Uint("m", uint(cfg.Magic), "artifact magic u32")
	rsyncArgs := fs.String("R", "-v", "transport extra args")
	verbosity := fs.Int("v", 0, "verbosity count (0 = info, 1 or more = debug)")
	help := fs.Bool("h", false, "show help message")
	helpLong := fs.Bool("help", false, "show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printRestoreUsage(os.Stdout)
		return 0
	}

	cfg.DataDir = *dataDir
	cfg.BackupPath = *backupPath
	cfg.Compress = *compress
	cfg.TmpDir = *tmpDir
	cfg.Retries = *retries
	cfg.PauseSeconds = *pause
	cfg.Parallel = *parallel
	cfg.BlockSize = *blockSize
	cfg.Magic = uint32(*magic)
	cfg.Verbosity = *verbosity
	if *rsyncArgs != "" {
		cfg.RsyncArgs = []string{*rsyncArgs}
	}

	tbs, err := runconfig.ParseTablespaces(*tablespaces)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg.Tablespaces = tbs

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logging.New(logging.Config{
		Level:  logging.LevelFromVerbosity(cfg.Verbosity),
		Format: logging.FormatText,
		Output: os.Stderr,
	})

	fmt.Printf("Restoring from backup...\n")
	fmt.Printf("  Backup path: %s\n", cfg.BackupPath)
	fmt.Printf("  Data dir:    %s\n", cfg.DataDir)
	fmt.Printf("  Parallel:    %d\n", cfg.Parallel)

	start := time.Now()
	tr := transport.RsyncTransport{}
	if err := orchestrator.Restore(context.Background(), cfg, tr, log); err != nil {
		fmt.Fprintf(os.Stderr, "Restore failed: %v\n", err)
		return 1
	}

	fmt.Printf("\nRestore completed successfully!\n")
	fmt.Printf("  Duration: %v\n", time.Since(start).Round(time.Millisecond))

	return 0
}

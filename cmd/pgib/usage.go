package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `pgib - incremental page-level backup and restore for PostgreSQL data directories

Usage:
  pgib <command> [options]

Commands:
  backup      Create a full or incremental backup
  restore     Restore a data directory from a backup
  version     Show version information

Use "pgib <command> -h" for more information about a command.
`)
}

// printBackupUsage prints the backup command usage.
func printBackupUsage(w io.Writer) {
	fmt.Fprint(w, `Create a full or incremental backup

Usage:
  pgib backup -b backup_path [options]

Options:
  -D pgdata
        data directory root (default "/var/lib/pgsql/data")
  -b backup_path
        remote/local backup root (required)
  -l lsn
        incremental watermark; 0 means full backup
  -a after
        unix-time mtime cutoff for the unchanged-file shortcut
  -c compress
        none|gzip[-L]|bzip2[-L]|lzma[-L] (default "none")
  -t tmpdir
        scratch directory (default "/tmp/barman")
  -e exclude
        comma-separated globs (default "*pg_xlog/*,*pg_log/*,*pg_stat_tmp/*,*pg_replslot/*")
  -r retries
        transport retries (default 5)
  -s pause
        seconds between retries (default 30)
  -f file_list
        prior manifest URL, required for incremental backup
  -p parallel
        worker count (default 1)
  -T tablespaces
        name:path,... tablespace relocations
  -Z block_size
        page size in bytes (default 8192)
  -m magic
        artifact magic u32 (default 2359285)
  -w bandwidth_limit
        global KB/s cap
  -W tablespaces_bw
        name:KBps,... per-tablespace bandwidth override
  -i include_files
        comma-separated absolute paths to force-full backup
  -R rsync_args
        transport extra args (default "-v")
  -v count
        verbosity count: 0 logs at info, 1 or more at debug (the flag takes
        a number; a bare or repeated -v is rejected)
  -h, -help
        show this help message
`)
}

// printRestoreUsage prints the restore command usage.
func printRestoreUsage(w io.Writer) {
	fmt.Fprint(w, `Restore a data directory from a backup

Usage:
  pgib restore -b backup_path [options]

Options:
  -D pgdata
        data directory root to restore into (default "/var/lib/pgsql/data")
  -b backup_path
        remote/local backup root (required)
  -c compress
        none|gzip[-L]|bzip2[-L]|lzma[-L] (default "none")
  -t tmpdir
        scratch directory (default "/tmp/barman")
  -r retries
        transport retries (default 5)
  -s pause
        seconds between retries (default 30)
  -p parallel
        worker count (default 1)
  -T tablespaces
        name:path,... tablespace relocations
  -Z block_size
        page size in bytes (default 8192)
  -m magic
        artifact magic u32 (default 2359285)
  -R rsync_args
        transport extra args (default "-v")
  -v count
        verbosity count: 0 logs at info, 1 or more at debug (the flag takes
        a number; a bare or repeated -v is rejected)
  -h, -help
        show this help message
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  pgib version [options]

Options:
  -short
        show only the version number
  -h, -help
        show this help message
`)
}

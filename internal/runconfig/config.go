// Package runconfig holds the immutable per-run configuration value that
// flows from the CLI down to every worker. Derived copies are produced with
// With* methods rather than mutation, matching the way a dispatch site
// overrides a handful of fields (lsn cleared for files that must be backed
// up in full, compress forced to "none" for .conf files) without touching
// the shared original.
package runconfig

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Tablespace names one configured tablespace relocation.
type Tablespace struct {
	Name string
	Path string
}

// BandwidthOverride names one tablespace's bandwidth cap override.
type BandwidthOverride struct {
	Name  string
	KBps  int
}

// Config is the full set of values a backup or restore run is parameterized
// by. Zero value is not meaningful; build one with Defaults and refine it
// with With* methods.
type Config struct {
	DataDir      string
	BackupPath   string
	LSN          uint64
	HasLSN       bool
	After        int64
	Compress     string
	TmpDir       string
	Exclude      []string
	Retries      int
	PauseSeconds int
	FileList     string
	Parallel     int
	Tablespaces  []Tablespace
	BlockSize    int
	Magic        uint32
	BandwidthKBps int
	TablespaceBW []BandwidthOverride
	IncludeFiles []string
	RsyncArgs    []string
	Verbosity    int

	// InputFileList is the parsed prior manifest (path -> size), populated
	// by the orchestrator before dispatch when doing an incremental backup
	// or any restore.
	InputFileList map[string]int64
	// StartTime is the run's start time (unix seconds), used by TreeDriver's
	// ctime-vs-start_time fatal/recoverable policy.
	StartTime int64
}

// WithInputFileList returns a derived Config carrying the parsed prior
// manifest.
func (c Config) WithInputFileList(m map[string]int64) Config {
	c.InputFileList = m
	return c
}

// WithStartTime returns a derived Config stamped with the run's start time.
func (c Config) WithStartTime(unix int64) Config {
	c.StartTime = unix
	return c
}

// Defaults mirrors the CLI's documented flag defaults.
func Defaults() Config {
	return Config{
		DataDir:      "/var/lib/pgsql/data",
		Compress:     "none",
		TmpDir:       "/tmp/barman",
		Exclude:      []string{"*pg_xlog/*", "*pg_log/*", "*pg_stat_tmp/*", "*pg_replslot/*"},
		Retries:      5,
		PauseSeconds: 30,
		Parallel:     1,
		BlockSize:    8192,
		Magic:        2359285,
		RsyncArgs:    []string{"-v"},
	}
}

// Validate checks the invariants the CLI and orchestrator both rely on:
// backup_path is required — never silently treated as a one-element
// positional list — an incremental watermark needs a prior manifest, and
// the numeric knobs are sane.
func (c Config) Validate() error {
	if c.BackupPath == "" {
		return errors.New("runconfig: backup_path is required")
	}
	if c.HasLSN && c.FileList == "" {
		return errors.New("runconfig: incremental backup requires a prior manifest (file_list)")
	}
	if c.DataDir == "" {
		return errors.New("runconfig: pgdata is required")
	}
	if c.BlockSize <= 0 {
		return errors.New("runconfig: block size must be positive")
	}
	if c.Parallel <= 0 {
		return errors.New("runconfig: parallel must be positive")
	}
	return nil
}

// WithLSN returns a derived Config with the incremental watermark set.
func (c Config) WithLSN(lsn uint64) Config {
	c.LSN = lsn
	c.HasLSN = true
	return c
}

// WithoutLSN returns a derived Config with the watermark cleared, forcing
// full-mode backup — used for .conf files, files absent from the prior
// manifest, include files and pg_control.
func (c Config) WithoutLSN() Config {
	c.LSN = 0
	c.HasLSN = false
	return c
}

// WithCompress returns a derived Config using the given compress spec.
func (c Config) WithCompress(spec string) Config {
	c.Compress = spec
	return c
}

// WithPath returns a derived Config targeting a different backup_path.
func (c Config) WithPath(backupPath string) Config {
	c.BackupPath = backupPath
	return c
}

// WithBandwidthKBps returns a derived Config with the global bandwidth limit
// W set to kbps; WorkerBandwidthKBps derives each worker's cap from it.
func (c Config) WithBandwidthKBps(kbps int) Config {
	c.BandwidthKBps = kbps
	return c
}

// WorkerBandwidthKBps computes this worker's Transport rate cap: a
// per-tablespace override if relPath falls under one, else max(W/P, 1) when
// a global limit is configured, else 0 (unlimited).
func (c Config) WorkerBandwidthKBps(relPath string) int {
	for _, tbs := range c.Tablespaces {
		if !pathUnder(relPath, tbs.Name) {
			continue
		}
		for _, bw := range c.TablespaceBW {
			if bw.Name == tbs.Name {
				return bw.KBps
			}
		}
	}
	if c.BandwidthKBps <= 0 {
		return 0
	}
	if per := c.BandwidthKBps / c.Parallel; per > 1 {
		return per
	}
	return 1
}

func pathUnder(relPath, tablespaceName string) bool {
	prefix := "pg_tblspc/" + tablespaceName
	return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
}

// ParseTablespaces parses the -T flag's "name:path,..." syntax.
func ParseTablespaces(spec string) ([]Tablespace, error) {
	if spec == "" {
		return nil, nil
	}
	var out []Tablespace
	for _, part := range strings.Split(spec, ",") {
		name, path, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Errorf("runconfig: malformed tablespace entry %q", part)
		}
		out = append(out, Tablespace{Name: name, Path: path})
	}
	return out, nil
}

// ParseBandwidthOverrides parses the -W flag's "name:KBps,..." syntax.
func ParseBandwidthOverrides(spec string) ([]BandwidthOverride, error) {
	if spec == "" {
		return nil, nil
	}
	var out []BandwidthOverride
	for _, part := range strings.Split(spec, ",") {
		name, kbpsStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, errors.Errorf("runconfig: malformed bandwidth entry %q", part)
		}
		kbps, err := strconv.Atoi(kbpsStr)
		if err != nil {
			return nil, errors.Wrapf(err, "runconfig: bandwidth value %q", part)
		}
		out = append(out, BandwidthOverride{Name: name, KBps: kbps})
	}
	return out, nil
}

// ParseExclude parses the -e flag's comma-separated glob list.
func ParseExclude(spec string) []string {
	if spec == "" {
		return nil
	}
	return strings.Split(spec, ",")
}

// ParseIncludeFiles parses the -i flag's comma-separated absolute path list.
func ParseIncludeFiles(spec string) []string {
	if spec == "" {
		return nil
	}
	return strings.Split(spec, ",")
}

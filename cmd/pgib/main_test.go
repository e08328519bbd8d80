package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_NoArgs(t *testing.T) {
	exitCode := run([]string{"pgib"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for no args, got %d", exitCode)
	}
}

func TestRun_Help(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"help command", []string{"pgib", "help"}},
		{"short flag", []string{"pgib", "-h"}},
		{"long flag", []string{"pgib", "--help"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitCode := run(tt.args)
			if exitCode != 0 {
				t.Errorf("expected exit code 0 for help, got %d", exitCode)
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	exitCode := run([]string{"pgib", "unknown"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for unknown command, got %d", exitCode)
	}
}

func TestRun_Version(t *testing.T) {
	exitCode := run([]string{"pgib", "version"})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for version, got %d", exitCode)
	}
}

func TestRun_VersionShort(t *testing.T) {
	exitCode := run([]string{"pgib", "version", "-short"})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for version -short, got %d", exitCode)
	}
}

func TestRun_BackupMissingBackupPath(t *testing.T) {
	exitCode := run([]string{"pgib", "backup"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for backup without -b, got %d", exitCode)
	}
}

func TestRun_BackupHelp(t *testing.T) {
	exitCode := run([]string{"pgib", "backup", "-h"})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for backup help, got %d", exitCode)
	}
}

func TestRun_RestoreMissingBackupPath(t *testing.T) {
	exitCode := run([]string{"pgib", "restore"})
	if exitCode != 1 {
		t.Errorf("expected exit code 1 for restore without -b, got %d", exitCode)
	}
}

func TestRun_RestoreHelp(t *testing.T) {
	exitCode := run([]string{"pgib", "restore", "-h"})
	if exitCode != 0 {
		t.Errorf("expected exit code 0 for restore help, got %d", exitCode)
	}
}

func TestRun_BackupFullThenRestore(t *testing.T) {
	dataDir := t.TempDir()
	backupPath := t.TempDir()
	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dataDir, "global"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "global/pg_control"), []byte("controlbytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "base_table"), []byte("tabledata"), 0o644); err != nil {
		t.Fatal(err)
	}

	exitCode := run([]string{
		"pgib", "backup",
		"-D", dataDir,
		"-b", backupPath,
		"-t", tmpDir,
		"-Z", "8192",
	})
	if exitCode != 0 {
		t.Fatalf("expected exit code 0 for backup, got %d", exitCode)
	}
	if err := os.WriteFile(filepath.Join(backupPath, "backup_label"), []byte("START WAL LOCATION\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	restoreDataDir := t.TempDir()
	restoreTmp := t.TempDir()
	exitCode = run([]string{
		"pgib", "restore",
		"-D", restoreDataDir,
		"-b", backupPath,
		"-t", restoreTmp,
		"-Z", "8192",
	})
	if exitCode != 0 {
		t.Fatalf("expected exit code 0 for restore, got %d", exitCode)
	}

	got, err := os.ReadFile(filepath.Join(restoreDataDir, "base_table"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "tabledata" {
		t.Errorf("restored base_table = %q, want %q", got, "tabledata")
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)

	output := buf.String()
	expectedStrings := []string{
		"pgib - incremental page-level backup",
		"Usage:",
		"Commands:",
		"backup",
		"restore",
		"version",
	}

	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("expected usage to contain %q", expected)
		}
	}
}

func TestPrintBackupUsage(t *testing.T) {
	var buf bytes.Buffer
	printBackupUsage(&buf)

	output := buf.String()
	expectedStrings := []string{"-D pgdata", "-b backup_path", "-l lsn", "-c compress", "-T tablespaces"}
	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("expected backup usage to contain %q", expected)
		}
	}
}

func TestPrintRestoreUsage(t *testing.T) {
	var buf bytes.Buffer
	printRestoreUsage(&buf)

	output := buf.String()
	expectedStrings := []string{"-D pgdata", "-b backup_path", "-T tablespaces"}
	for _, expected := range expectedStrings {
		if !strings.Contains(output, expected) {
			t.Errorf("expected restore usage to contain %q", expected)
		}
	}
}

func TestPrintVersionUsage(t *testing.T) {
	var buf bytes.Buffer
	printVersionUsage(&buf)

	output := buf.String()
	if !strings.Contains(output, "-short") {
		t.Error("expected version usage to contain -short")
	}
}

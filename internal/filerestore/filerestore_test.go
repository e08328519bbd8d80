package filerestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/KilimcininKorOglu/pgib/internal/artifact"
	"github.com/KilimcininKorOglu/pgib/internal/logging"
	"github.com/KilimcininKorOglu/pgib/internal/runconfig"
	"github.com/KilimcininKorOglu/pgib/internal/transport"
)

const testBlockSize = 8192
const testMagic = 2359285

func makePage(lsn uint64, version uint16) []byte {
	buf := make([]byte, testBlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(lsn>>32))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(lsn))
	binary.LittleEndian.PutUint16(buf[12:14], 32)
	binary.LittleEndian.PutUint16(buf[14:16], 64)
	binary.LittleEndian.PutUint16(buf[16:18], testBlockSize)
	binary.LittleEndian.PutUint16(buf[18:20], version)
	return buf
}

func validPage(lsn uint64) []byte { return makePage(lsn, testBlockSize+4) }

func baseConfig(t *testing.T, dataDir, backupPath, tmpDir string) runconfig.Config {
	t.Helper()
	c := runconfig.Defaults()
	c.DataDir = dataDir
	c.BackupPath = backupPath
	c.TmpDir = tmpDir
	c.BlockSize = testBlockSize
	c.Magic = testMagic
	return c
}

func writeArtifact(t *testing.T, backupPath, relPath string, content []byte) {
	t.Helper()
	full := filepath.Join(backupPath, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// Full-rewrite path (no prefix)
// =============================================================================

func TestRestoreFullRewrite(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	pageA, pageB, pageC := validPage(100), validPage(100), validPage(100)
	content := append(append(append([]byte{}, pageA...), pageB...), pageC...)

	relPath := "base/1/16384"
	writeArtifact(t, backupPath, relPath, content)

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dataDir, relPath))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("restored file does not match full artifact content")
	}
}

// =============================================================================
// Patch path: apply changed pages onto an existing target
// =============================================================================

func TestRestorePatchAppliesChangedPages(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	relPath := "base/1/16384"

	baseA, baseB, baseC := validPage(100), validPage(100), validPage(100)
	base := append(append(append([]byte{}, baseA...), baseB...), baseC...)
	full := filepath.Join(dataDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, base, 0o644); err != nil {
		t.Fatal(err)
	}

	newA, newC := validPage(200), validPage(200)
	var buf bytes.Buffer
	if err := artifact.WritePrefix(&buf, testMagic, []uint32{0, 2}); err != nil {
		t.Fatal(err)
	}
	buf.Write(newA)
	buf.Write(newC)
	writeArtifact(t, backupPath, relPath, buf.Bytes())

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := append(append(append([]byte{}, newA...), baseB...), newC...)
	if !bytes.Equal(got, want) {
		t.Error("patched file does not equal A'||B||C'")
	}
}

// =============================================================================
// Unchanged artifact is a no-op
// =============================================================================

func TestRestoreUnchangedIsNoOp(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	relPath := "base/1/16384"

	original := bytes.Repeat([]byte{0x11}, testBlockSize)
	full := filepath.Join(dataDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, original, 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := artifact.WriteFullPrefix(&buf, testMagic); err != nil {
		t.Fatal(err)
	}
	writeArtifact(t, backupPath, relPath, buf.Bytes())

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Error("unchanged restore must not modify the existing target")
	}
}

// =============================================================================
// Scenario 5: truncation on restore
// =============================================================================

func TestRestoreTruncatesToManifestSize(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	relPath := "base/1/16384"

	pages := make([][]byte, 5)
	for i := range pages {
		pages[i] = validPage(100)
	}
	var existing bytes.Buffer
	for _, p := range pages {
		existing.Write(p)
	}
	full := filepath.Join(dataDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, existing.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	newPage1 := validPage(300)
	var buf bytes.Buffer
	if err := artifact.WritePrefix(&buf, testMagic, []uint32{1}); err != nil {
		t.Fatal(err)
	}
	buf.Write(newPage1)
	writeArtifact(t, backupPath, relPath, buf.Bytes())

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	cfg.InputFileList = map[string]int64{relPath: 3 * testBlockSize}

	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	info, err := os.Stat(full)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 3*testBlockSize {
		t.Errorf("restored size = %d, want %d", info.Size(), 3*testBlockSize)
	}

	got, err := os.ReadFile(full)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[testBlockSize:2*testBlockSize], newPage1) {
		t.Error("page 1 was not overwritten with the patched content")
	}
}

func TestRestoreFailsOnShortPage(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	relPath := "base/1/16384"

	full := filepath.Join(dataDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, validPage(100), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := artifact.WritePrefix(&buf, testMagic, []uint32{0}); err != nil {
		t.Fatal(err)
	}
	buf.Write([]byte{0x01, 0x02}) // short page payload
	writeArtifact(t, backupPath, relPath, buf.Bytes())

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err == nil {
		t.Fatal("Restore() error = nil, want error for short page read")
	}
}

func TestRestoreFailsOnInvalidPage(t *testing.T) {
	backupPath, dataDir, tmpDir := t.TempDir(), t.TempDir(), t.TempDir()
	relPath := "base/1/16384"

	full := filepath.Join(dataDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, validPage(100), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := artifact.WritePrefix(&buf, testMagic, []uint32{0}); err != nil {
		t.Fatal(err)
	}
	buf.Write(makePage(100, 1)) // wrong version -> invalid
	writeArtifact(t, backupPath, relPath, buf.Bytes())

	cfg := baseConfig(t, dataDir, backupPath, tmpDir)
	if _, err := Restore(context.Background(), cfg, transport.LocalTransport{}, logging.NewNop(), relPath); err == nil {
		t.Fatal("Restore() error = nil, want error for invalid page")
	}
}

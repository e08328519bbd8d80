package streamcodec

import (
	"bytes"
	"io"
	"testing"
)

func roundTrip(t *testing.T, c Codec, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := c.NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return got
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParseDefaults(t *testing.T) {
	c, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") error = %v", err)
	}
	if c.Name() != "none" {
		t.Errorf("Name() = %q, want none", c.Name())
	}
}

func TestParseNameWithLevel(t *testing.T) {
	c, err := Parse("gzip-9")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	gc, ok := c.(gzipCodec)
	if !ok {
		t.Fatalf("Parse() returned %T, want gzipCodec", c)
	}
	if gc.level != 9 {
		t.Errorf("level = %d, want 9", gc.level)
	}
}

func TestParseUnknownCodec(t *testing.T) {
	if _, err := Parse("rot13"); err == nil {
		t.Fatal("Parse(\"rot13\") error = nil, want error")
	}
}

func TestParseAllKnownNames(t *testing.T) {
	for _, name := range []string{"none", "gzip", "bzip2", "lzma"} {
		c, err := Parse(name)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("Parse(%q).Name() = %q", name, c.Name())
		}
	}
}

// =============================================================================
// Round-trip Tests
// =============================================================================

func TestNoneRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	c, _ := Parse("none")
	got := roundTrip(t, c, payload)
	if !bytes.Equal(got, payload) {
		t.Errorf("roundTrip = %q, want %q", got, payload)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("page-data-"), 200)
	c, _ := Parse("gzip-6")
	got := roundTrip(t, c, payload)
	if !bytes.Equal(got, payload) {
		t.Errorf("roundTrip mismatch, got %d bytes, want %d", len(got), len(payload))
	}
}

func TestBzip2RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("page-data-"), 200)
	c, _ := Parse("bzip2-3")
	got := roundTrip(t, c, payload)
	if !bytes.Equal(got, payload) {
		t.Errorf("roundTrip mismatch, got %d bytes, want %d", len(got), len(payload))
	}
}

func TestLzmaRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("page-data-"), 200)
	c, _ := Parse("lzma")
	got := roundTrip(t, c, payload)
	if !bytes.Equal(got, payload) {
		t.Errorf("roundTrip mismatch, got %d bytes, want %d", len(got), len(payload))
	}
}

// =============================================================================
// ForcesNone Tests
// =============================================================================

func TestForcesNone(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"postgresql.conf", true},
		{"base/pg_hba.conf", true},
		{"global/pg_control", true},
		{"base/1/16384", false},
		{"pg_xlog/000000010000000000000001", false},
	}
	for _, tt := range tests {
		if got := ForcesNone(tt.path); got != tt.want {
			t.Errorf("ForcesNone(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

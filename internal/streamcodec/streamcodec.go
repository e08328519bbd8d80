// Package streamcodec wraps artifact streams with a pluggable compression
// codec, parsed from the same "name" or "name-level" strings the CLI's
// -c/--compress flag accepts.
package streamcodec

import (
	"io"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

// DefaultLevel is used when a compress spec names a codec without a level
// suffix.
const DefaultLevel = 6

// Codec wraps a byte sink or source with a compression transform.
type Codec interface {
	// Name reports the codec name this instance was parsed from (e.g.
	// "gzip").
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Parse decodes a "name" or "name-level" compress spec into a Codec.
// An empty spec means "none". Unknown codec names are an error.
func Parse(spec string) (Codec, error) {
	if spec == "" {
		spec = "none"
	}
	name, level := spec, DefaultLevel
	if i := strings.LastIndexByte(spec, '-'); i >= 0 {
		if n, err := strconv.Atoi(spec[i+1:]); err == nil {
			name, level = spec[:i], n
		}
	}

	switch name {
	case "none":
		return noneCodec{}, nil
	case "gzip":
		return gzipCodec{level: level}, nil
	case "bzip2":
		return bzip2Codec{level: level}, nil
	case "lzma":
		return lzmaCodec{level: level}, nil
	default:
		return nil, errors.Errorf("streamcodec: unknown compression %q", name)
	}
}

// noneCodec passes bytes through unchanged. MUST be used for .conf files
// and pg_control.
type noneCodec struct{}

func (noneCodec) Name() string { return "none" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// gzipCodec wraps github.com/klauspost/compress/gzip, a faster drop-in
// replacement for the standard library's implementation.
type gzipCodec struct{ level int }

func (gzipCodec) Name() string { return "gzip" }

func (c gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	gw, err := gzip.NewWriterLevel(w, clampLevel(c.level, gzip.BestSpeed, gzip.BestCompression))
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new gzip writer")
	}
	return gw, nil
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new gzip reader")
	}
	return gr, nil
}

// bzip2Codec wraps github.com/dsnet/compress/bzip2, which is the one
// library in reach that implements a bzip2 *writer* — the standard
// library's compress/bzip2 package only decodes.
type bzip2Codec struct{ level int }

func (bzip2Codec) Name() string { return "bzip2" }

func (c bzip2Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: clampLevel(c.level, bzip2.BestSpeed, bzip2.BestCompression)})
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new bzip2 writer")
	}
	return bw, nil
}

func (bzip2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	br, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new bzip2 reader")
	}
	return br, nil
}

// lzmaCodec wraps github.com/ulikunitz/xz/lzma. The library exposes a
// dictionary-size/preset knob rather than a 1-9 level, so level is accepted
// for CLI symmetry and only chooses the dictionary size (see lzmaDictCap).
type lzmaCodec struct{ level int }

func (lzmaCodec) Name() string { return "lzma" }

func (c lzmaCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	cfg := lzma.WriterConfig{DictCap: lzmaDictCap(c.level)}
	lw, err := cfg.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new lzma writer")
	}
	return lw, nil
}

type lzmaReadCloser struct{ r *lzma.Reader }

func (l lzmaReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l lzmaReadCloser) Close() error               { return nil }

func (lzmaCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "streamcodec: new lzma reader")
	}
	return lzmaReadCloser{lr}, nil
}

// lzmaDictCap maps the 1-9 CLI level onto a dictionary size in bytes; the
// library has no direct equivalent of gzip/bzip2's numeric level.
func lzmaDictCap(level int) int {
	level = clampLevel(level, 1, 9)
	return (1 << 20) * (1 << uint(level-1))
}

func clampLevel(level, min, max int) int {
	if level < min {
		return min
	}
	if level > max {
		return max
	}
	return level
}

// noneOnlyGlobs are the paths that must always use the "none" codec
// regardless of the configured compression, expressed as doublestar globs
// so ".conf" files nested at any depth match the same way pgdata's exclude
// globs do.
var noneOnlyGlobs = []string{"**/*.conf", "global/pg_control"}

// ForcesNone reports whether relPath must bypass the configured compression
// codec (.conf files and pg_control always travel uncompressed).
func ForcesNone(relPath string) bool {
	for _, g := range noneOnlyGlobs {
		if ok, _ := doublestar.Match(g, relPath); ok {
			return true
		}
	}
	return false
}

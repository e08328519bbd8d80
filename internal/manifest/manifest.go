// Package manifest encodes and decodes file.list, the line-oriented listing
// of every path a backup run covers.
package manifest

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Entry is one line of file.list: a relative path and its authoritative
// size. Directories carry a trailing slash on Path and a Size of 0.
type Entry struct {
	Path string
	Size int64
	Dir  bool
}

// Encode writes entries one per line as "<relative-path>|<decimal-size>\n",
// directories getting a trailing slash and size 0.
func Encode(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		path := e.Path
		size := e.Size
		if e.Dir {
			if !strings.HasSuffix(path, "/") {
				path += "/"
			}
			size = 0
		}
		if _, err := bw.WriteString(path); err != nil {
			return errors.Wrap(err, "manifest: write path")
		}
		if err := bw.WriteByte('|'); err != nil {
			return errors.Wrap(err, "manifest: write separator")
		}
		if _, err := bw.WriteString(strconv.FormatInt(size, 10)); err != nil {
			return errors.Wrap(err, "manifest: write size")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "manifest: write newline")
		}
	}
	return errors.Wrap(bw.Flush(), "manifest: flush")
}

// Decode reads file.list, one entry per line. A path ending in "/" is a
// directory entry.
func Decode(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		path, sizeStr, ok := strings.Cut(line, "|")
		if !ok {
			return nil, errors.Errorf("manifest: malformed line %q", line)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: size in line %q", line)
		}
		entries = append(entries, Entry{
			Path: path,
			Size: size,
			Dir:  strings.HasSuffix(path, "/"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "manifest: scan")
	}
	return entries, nil
}

// Map builds a path->size lookup out of entries, the shape FileBackup's
// unchanged-shortcut and FileRestore's truncation step both need.
func Map(entries []Entry) map[string]int64 {
	m := make(map[string]int64, len(entries))
	for _, e := range entries {
		m[e.Path] = e.Size
	}
	return m
}

// Package artifact encodes and decodes the per-file incremental backup
// container: a structured prefix naming which pages changed, followed by
// the raw bytes of those pages in the same order.
package artifact

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// fieldSize is the width of every field in the structured prefix: the
// 4-byte field count, the magic, and each changed-page index.
const fieldSize = 4

// PrefixLen returns the deterministic byte length of the encoded prefix
// [magic, pages...]: a 4-byte field count followed by 1+len(pages) uint32
// fields. Callers use this to seek a stream past the prefix without
// re-reading it.
func PrefixLen(pages []uint32) int {
	return fieldSize + fieldSize*(1+len(pages))
}

// WritePrefix emits the structured array [magic, p0, p1, ...] naming the
// changed pages, in ascending order, that follow in the stream.
func WritePrefix(w io.Writer, magic uint32, pages []uint32) error {
	buf := make([]byte, PrefixLen(pages))
	binary.BigEndian.PutUint32(buf[0:4], uint32(1+len(pages)))
	binary.BigEndian.PutUint32(buf[4:8], magic)
	for i, p := range pages {
		off := fieldSize * (2 + i)
		binary.BigEndian.PutUint32(buf[off:off+4], p)
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "artifact: write prefix")
	}
	return nil
}

// WriteFullPrefix emits [magic] with an empty changed-page list, marking
// the file as unchanged since the base backup.
func WriteFullPrefix(w io.Writer, magic uint32) error {
	return WritePrefix(w, magic, nil)
}

// ReadPrefix reads the structured array header from r. It returns ok=true
// and the changed-page list only when the array is non-empty and its first
// element equals magic; otherwise ok=false. The bytes read so far are
// consumed either way, so on ok=false the caller must reopen the source and
// treat it as a raw full-file stream starting at offset 0.
//
// On success, r's cursor is positioned exactly at the first page payload
// byte.
func ReadPrefix(r io.Reader, magic uint32) (pages []uint32, ok bool, err error) {
	isShortRead := func(err error) bool {
		return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	}

	var countBuf [fieldSize]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		if isShortRead(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "artifact: read field count")
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	if count == 0 {
		return nil, false, nil
	}

	var magicBuf [fieldSize]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		if isShortRead(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "artifact: read magic")
	}
	if binary.BigEndian.Uint32(magicBuf[:]) != magic {
		return nil, false, nil
	}

	pages = make([]uint32, count-1)
	for i := range pages {
		var pbuf [fieldSize]byte
		if _, err := io.ReadFull(r, pbuf[:]); err != nil {
			if isShortRead(err) {
				return nil, false, nil
			}
			return nil, false, errors.Wrapf(err, "artifact: read changed-page index %d", i)
		}
		pages[i] = binary.BigEndian.Uint32(pbuf[:])
	}
	return pages, true, nil
}

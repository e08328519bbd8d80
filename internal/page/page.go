// Package page parses and validates PostgreSQL data-page headers.
//
// A page is the fixed-size (B-byte) unit of storage backing every relation
// file in a PostgreSQL data directory. The first 24 bytes of every page hold
// a fixed-layout header; the rest of the page is opaque to this package.
package page

import "encoding/binary"

// HeaderSize is the number of header bytes every page begins with.
const HeaderSize = 24

// reservedFlagMask covers the flag bits PostgreSQL defines on a page header;
// any bit outside this mask means the page is not laid out the way this
// package understands.
const reservedFlagMask = 0x7

// Header is the first 24 bytes of a page, decoded field by field.
// Layout (little-endian, native width, equivalent to the struct format
// string "=LL6HL"):
//
//	bytes 0-3:   LSNHi     uint32
//	bytes 4-7:   LSNLo     uint32
//	bytes 8-9:   Checksum  uint16
//	bytes 10-11: Flags     uint16
//	bytes 12-13: Lower     uint16
//	bytes 14-15: Upper     uint16
//	bytes 16-17: Special   uint16
//	bytes 18-19: Version   uint16
//	bytes 20-23: PruneXid  uint32
type Header struct {
	LSNHi    uint32
	LSNLo    uint32
	Checksum uint16
	Flags    uint16
	Lower    uint16
	Upper    uint16
	Special  uint16
	Version  uint16
	PruneXid uint32
}

// LSN combines LSNHi/LSNLo into the 64-bit log sequence number.
func (h Header) LSN() uint64 {
	return uint64(h.LSNHi)<<32 | uint64(h.LSNLo)
}

// Decode reads a Header from the first HeaderSize bytes of buf.
// buf must be at least HeaderSize bytes long.
func Decode(buf []byte) Header {
	_ = buf[HeaderSize-1] // bounds check hint
	return Header{
		LSNHi:    binary.LittleEndian.Uint32(buf[0:4]),
		LSNLo:    binary.LittleEndian.Uint32(buf[4:8]),
		Checksum: binary.LittleEndian.Uint16(buf[8:10]),
		Flags:    binary.LittleEndian.Uint16(buf[10:12]),
		Lower:    binary.LittleEndian.Uint16(buf[12:14]),
		Upper:    binary.LittleEndian.Uint16(buf[14:16]),
		Special:  binary.LittleEndian.Uint16(buf[16:18]),
		Version:  binary.LittleEndian.Uint16(buf[18:20]),
		PruneXid: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// Valid reports whether h describes a well-formed page of size blockSize,
// per the validity predicate: no reserved flag bits, 24 <= lower <= upper <=
// special <= blockSize, a nonzero LSN, and the page-layout version encoded
// as blockSize+4.
func (h Header) Valid(blockSize int) bool {
	if h.Flags&^reservedFlagMask != 0 {
		return false
	}
	if !(HeaderSize <= h.Lower && h.Lower <= h.Upper && h.Upper <= h.Special && int(h.Special) <= blockSize) {
		return false
	}
	if h.LSN() == 0 {
		return false
	}
	if int(h.Version) != blockSize+4 {
		return false
	}
	return true
}

// Parse decodes the header from the first HeaderSize bytes of raw and
// reports whether it is correct for the given block size. It never fails
// structurally: an invalid header still yields its (meaningless) LSN so
// callers can log it without a second decode.
func Parse(raw []byte, blockSize int) (correct bool, lsn uint64) {
	h := Decode(raw)
	return h.Valid(blockSize), h.LSN()
}

// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"fmt"
	"io/fs"
	"strings"
	"time"
	"unicode/utf8"
)

// An Entry is one archived file or directory, as described by its
// central directory record. Entries read from an archive are immutable.
type Entry struct {
	// Name is the decoded entry name: the 0x7075 unicode-path override
	// when valid, otherwise the raw header bytes as a string.
	// Directories end in "/".
	Name    string
	RawName []byte
	Comment string

	Method           uint16
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	HeaderOffset     int64 // of the local header, from start of stream

	Mode     fs.FileMode
	Modified time.Time
	Extra    ExtraFields

	// Zip64 is set when any of the record's fixed-width fields carried
	// the sentinel and the real value came from a ZIP64 extra field.
	Zip64 bool

	creatorOS        byte
	dosDate, dosTime uint16
}

// IsDir reports whether the entry is a directory marker.
func (e *Entry) IsDir() bool { return strings.HasSuffix(e.Name, "/") }

// UTF8 reports whether the name was declared UTF-8 via flag bit 11.
func (e *Entry) UTF8() bool { return e.Flags&flagUTF8 != 0 }

// parseCentralRecord decodes one central directory record at the
// cursor, leaving the cursor at the next record.
func parseCentralRecord(c *cursor, baseOffset int64) (*Entry, error) {
	recordOffset := baseOffset + c.tell()
	fixed, err := c.need(centralHeaderLen)
	if err != nil {
		return nil, err
	}
	b := readBuf(fixed)
	if sig := b.uint32(); sig != sigCentral {
		return nil, badSignature("central directory record", recordOffset, sig, sigCentral)
	}

	e := &Entry{}
	b.uint8() // version made by, low byte
	e.creatorOS = b.uint8()
	b.uint16() // version needed to extract
	e.Flags = b.uint16()
	e.Method = b.uint16()
	e.dosTime = b.uint16()
	e.dosDate = b.uint16()
	e.CRC32 = b.uint32()
	e.CompressedSize = uint64(b.uint32())
	e.UncompressedSize = uint64(b.uint32())
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	diskStart := uint32(b.uint16())
	b.uint16() // internal attributes
	attrs := b.uint32()
	e.HeaderOffset = int64(b.uint32())

	if e.RawName, err = c.need(nameLen); err != nil {
		return nil, err
	}
	extraRaw, err := c.need(extraLen)
	if err != nil {
		return nil, err
	}
	if e.Extra, err = parseExtras(extraRaw); err != nil {
		return nil, fmt.Errorf("%w (central record at %d)", err, recordOffset)
	}
	comment, err := c.need(commentLen)
	if err != nil {
		return nil, err
	}
	e.Comment = string(comment)

	wasSentinel := e.CompressedSize == sentinel32 || e.UncompressedSize == sentinel32 ||
		e.HeaderOffset == sentinel32 || diskStart == sentinel16
	if err := e.Extra.applyZip64(&e.UncompressedSize, &e.CompressedSize, &e.HeaderOffset, &diskStart); err != nil {
		return nil, fmt.Errorf("%w (central record at %d)", err, recordOffset)
	}
	if _, has := e.Extra.find(tagZip64); has && wasSentinel {
		e.Zip64 = true
	}
	if diskStart != 0 {
		return nil, ErrNoSpanned
	}

	e.Name = string(e.RawName)
	if !e.UTF8() {
		if name, ok := e.Extra.unicodePath(e.RawName); ok {
			e.Name = name
		}
	}
	e.Modified = msDosTimeToTime(e.dosDate, e.dosTime)
	if t := modTimeFromExtras(e.Extra); !t.IsZero() {
		e.Modified = t
	}
	e.Mode = externalMode(e.creatorOS, attrs, strings.HasSuffix(e.Name, "/"))
	return e, nil
}

// localFileHeader is the decoded 30-byte prefix of an entry's payload.
// The reader only trusts it for locating data; sizes and CRC come from
// the central directory.
type localFileHeader struct {
	flags      uint16
	method     uint16
	crc32      uint32
	csize      uint64 // 32-bit value as stored, possibly the sentinel
	usize      uint64
	dataOffset int64 // absolute, past name and extra
}

// parseLocalHeader decodes the local header at offset. Entries written
// through the data-descriptor path legitimately carry zero or sentinel
// size fields here; that is not a format error.
func parseLocalHeader(c *cursor, baseOffset int64) (*localFileHeader, error) {
	headerOffset := baseOffset + c.tell()
	fixed, err := c.need(localHeaderLen)
	if err != nil {
		return nil, err
	}
	b := readBuf(fixed)
	if sig := b.uint32(); sig != sigLocal {
		return nil, badSignature("local file header", headerOffset, sig, sigLocal)
	}
	h := &localFileHeader{}
	b.uint16() // version needed
	h.flags = b.uint16()
	h.method = b.uint16()
	b.uint16() // dos time
	b.uint16() // dos date
	h.crc32 = b.uint32()
	h.csize = uint64(b.uint32())
	h.usize = uint64(b.uint32())
	nameLen := int64(b.uint16())
	extraLen := int64(b.uint16())
	if err := c.skip(nameLen + extraLen); err != nil {
		return nil, err
	}
	h.dataOffset = baseOffset + c.tell()
	return h, nil
}

// entryZip64 reports which of an entry's central-record fields must be
// widened into a ZIP64 extra record. A value of 0xffffffff cannot be
// stored directly because it is the sentinel itself.
func entryZip64(usize, csize uint64, offset int64) (needU, needC, needO bool) {
	return usize >= sentinel32, csize >= sentinel32, offset >= sentinel32
}

// encodeLocalHeader serializes the local header for an entry whose
// sizes are already known. Streaming entries (flag bit 3) instead get
// zeroed crc/size fields and no ZIP64 record; their real values travel
// in the data descriptor and the central directory.
func encodeLocalHeader(e *Entry) []byte {
	extra := e.Extra.drop(tagZip64)
	streaming := e.Flags&flagDescriptor != 0

	version := methodVersion(e.Method)
	crc, csize32, usize32 := e.CRC32, uint32(e.CompressedSize), uint32(e.UncompressedSize)
	switch {
	case streaming:
		crc, csize32, usize32 = 0, 0, 0
	case e.CompressedSize >= sentinel32 || e.UncompressedSize >= sentinel32:
		// local ZIP64 records always carry both sizes
		extra = append(ExtraFields{{ID: tagZip64, Data: zip64Field(e.UncompressedSize, e.CompressedSize)}}, extra...)
		csize32, usize32 = sentinel32, sentinel32
		version = max(version, versionZip64)
	}

	extraBytes := extra.encode()
	buf := make([]byte, localHeaderLen+len(e.RawName)+len(extraBytes))
	b := writeBuf(buf)
	b.uint32(sigLocal)
	b.uint16(version)
	b.uint16(e.Flags)
	b.uint16(e.Method)
	b.uint16(e.dosTime)
	b.uint16(e.dosDate)
	b.uint32(crc)
	b.uint32(csize32)
	b.uint32(usize32)
	b.uint16(uint16(len(e.RawName)))
	b.uint16(uint16(len(extraBytes)))
	copy(b, e.RawName)
	copy(b[len(e.RawName):], extraBytes)
	return buf
}

// encodeCentralRecord serializes the central directory record,
// widening exactly the fields that exceed 32 bits.
func encodeCentralRecord(e *Entry) []byte {
	needU, needC, needO := entryZip64(e.UncompressedSize, e.CompressedSize, e.HeaderOffset)

	extra := e.Extra.drop(tagZip64)
	version := methodVersion(e.Method)
	csize32, usize32, offset32 := uint32(e.CompressedSize), uint32(e.UncompressedSize), uint32(e.HeaderOffset)
	if needU || needC || needO {
		var vals []uint64
		if needU {
			vals, usize32 = append(vals, e.UncompressedSize), sentinel32
		}
		if needC {
			vals, csize32 = append(vals, e.CompressedSize), sentinel32
		}
		if needO {
			vals, offset32 = append(vals, uint64(e.HeaderOffset)), sentinel32
		}
		extra = append(ExtraFields{{ID: tagZip64, Data: zip64Field(vals...)}}, extra...)
		version = max(version, versionZip64)
	}

	extraBytes := extra.encode()
	buf := make([]byte, centralHeaderLen+len(e.RawName)+len(extraBytes)+len(e.Comment))
	b := writeBuf(buf)
	b.uint32(sigCentral)
	b.uint8(byte(version)) // version made by: same floor...
	b.uint8(creatorUnix)   // ...claimed from a unix creator
	b.uint16(version)
	b.uint16(e.Flags)
	b.uint16(e.Method)
	b.uint16(e.dosTime)
	b.uint16(e.dosDate)
	b.uint32(e.CRC32)
	b.uint32(csize32)
	b.uint32(usize32)
	b.uint16(uint16(len(e.RawName)))
	b.uint16(uint16(len(extraBytes)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(0) // disk number start
	b.uint16(0) // internal attributes
	b.uint32(externalAttrs(e.Mode))
	b.uint32(offset32)
	copy(b, e.RawName)
	copy(b[len(e.RawName):], extraBytes)
	copy(b[len(e.RawName)+len(extraBytes):], e.Comment)
	return buf
}

// encodeDescriptor serializes the data descriptor that trails a
// streamed entry's payload. Sizes widen to 8 bytes when either count
// needs ZIP64; the signature is always written.
func encodeDescriptor(crc uint32, csize, usize uint64) []byte {
	wide := csize >= sentinel32 || usize >= sentinel32
	n := 16
	if wide {
		n = 24
	}
	buf := make([]byte, n)
	b := writeBuf(buf)
	b.uint32(sigDescriptor)
	b.uint32(crc)
	if wide {
		b.uint64(csize)
		b.uint64(usize)
	} else {
		b.uint32(uint32(csize))
		b.uint32(uint32(usize))
	}
	return buf
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the string
// must be considered UTF-8 encoding (i.e., not compatible with CP-437, ASCII,
// or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf8"
)

// An ExtraField is one (id, payload) subrecord from a header's extra
// area. Payloads of tags this package does not understand are carried
// verbatim so re-serializing is byte-exact.
type ExtraField struct {
	ID   uint16
	Data []byte // payload only, without the 4-byte tag/length prefix
}

// ExtraFields is the ordered subrecord chain of one header. Order is
// parse order (or insertion order when built by a writer); duplicates
// are legal and all preserved, with the first occurrence of a tag
// authoritative for decoding.
type ExtraFields []ExtraField

// parseExtras consumes repeated (id:2, size:2, payload:size) triples.
// The buffer must be exhausted exactly; a trailing partial triple is a
// format error rather than ignorable junk.
func parseExtras(b []byte) (ExtraFields, error) {
	var xs ExtraFields
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: %d stray bytes after extra fields", ErrFormat, len(b))
		}
		id := binary.LittleEndian.Uint16(b)
		size := int(binary.LittleEndian.Uint16(b[2:]))
		if len(b) < 4+size {
			return nil, fmt.Errorf("%w: extra field %#04x claims %d bytes, %d remain", ErrFormat, id, size, len(b)-4)
		}
		xs = append(xs, ExtraField{ID: id, Data: b[4 : 4+size : 4+size]})
		b = b[4+size:]
	}
	return xs, nil
}

// encode serializes the chain: the ZIP64 record first if present, then
// everything else in original order. The fixed order keeps archives
// that are read and rewritten unchanged byte-stable.
func (xs ExtraFields) encode() []byte {
	n := 0
	for _, x := range xs {
		n += 4 + len(x.Data)
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n)
	appendField := func(x ExtraField) {
		out = binary.LittleEndian.AppendUint16(out, x.ID)
		out = binary.LittleEndian.AppendUint16(out, uint16(len(x.Data)))
		out = append(out, x.Data...)
	}
	for _, x := range xs {
		if x.ID == tagZip64 {
			appendField(x)
		}
	}
	for _, x := range xs {
		if x.ID != tagZip64 {
			appendField(x)
		}
	}
	return out
}

// find returns the first payload carrying the given tag.
func (xs ExtraFields) find(id uint16) ([]byte, bool) {
	for _, x := range xs {
		if x.ID == id {
			return x.Data, true
		}
	}
	return nil, false
}

// set replaces the first field with the given tag, or appends one.
func (xs ExtraFields) set(id uint16, data []byte) ExtraFields {
	for i, x := range xs {
		if x.ID == id {
			xs[i].Data = data
			return xs
		}
	}
	return append(xs, ExtraField{ID: id, Data: data})
}

func (xs ExtraFields) drop(id uint16) ExtraFields {
	out := xs[:0]
	for _, x := range xs {
		if x.ID != id {
			out = append(out, x)
		}
	}
	return out
}

// applyZip64 widens the 32-bit fields that carry the sentinel from the
// ZIP64 extended-info record. Which 8-byte values are present is purely
// positional, in the fixed order uncompressed size, compressed size,
// header offset, disk start; only fields whose 32-bit twin is maxed get
// a slot at all.
func (xs ExtraFields) applyZip64(usize, csize *uint64, offset *int64, disk *uint32) error {
	raw, ok := xs.find(tagZip64)
	if !ok {
		return nil
	}
	b := readBuf(raw)
	for _, f := range []*uint64{usize, csize} {
		if *f == sentinel32 {
			if len(b) < 8 {
				return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
			}
			*f = b.uint64()
		}
	}
	if *offset == sentinel32 {
		if len(b) < 8 {
			return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
		}
		*offset = int64(b.uint64())
	}
	if disk != nil && *disk == sentinel16 {
		if len(b) < 4 {
			return fmt.Errorf("%w: short zip64 extra field", ErrFormat)
		}
		*disk = b.uint32()
	}
	return nil
}

// zip64Field builds a ZIP64 extended-info payload from the values that
// actually need widening, in the mandated order.
func zip64Field(vals ...uint64) []byte {
	out := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint64(out, v)
	}
	return out
}

// unicodePath returns the UTF-8 name from a 0x7075 field, but only when
// its embedded CRC over the raw header name matches: the field is a
// stale leftover otherwise.
func (xs ExtraFields) unicodePath(rawName []byte) (string, bool) {
	raw, ok := xs.find(tagUnicodePath)
	if !ok || len(raw) < 5 || raw[0] != 1 {
		return "", false
	}
	if binary.LittleEndian.Uint32(raw[1:]) != crc32.ChecksumIEEE(rawName) {
		return "", false
	}
	name := raw[5:]
	if !utf8.Valid(name) {
		return "", false
	}
	return string(name), true
}

// unixIDs decodes a 0x7875 (Info-ZIP "ux") field. Sizes other than the
// ubiquitous 4-byte uid/gid are tolerated up to 8 bytes.
func (xs ExtraFields) unixIDs() (uid, gid uint32, ok bool) {
	raw, found := xs.find(tagUnixIDs)
	if !found || len(raw) < 3 || raw[0] != 1 {
		return 0, 0, false
	}
	b := raw[1:]
	read := func() (uint32, bool) {
		if len(b) < 1 {
			return 0, false
		}
		n := int(b[0])
		b = b[1:]
		if n > len(b) || n > 8 {
			return 0, false
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		b = b[n:]
		return uint32(v), true
	}
	if uid, ok = read(); !ok {
		return 0, 0, false
	}
	if gid, ok = read(); !ok {
		return 0, 0, false
	}
	return uid, gid, true
}

// unixIDsField builds the 0x7875 payload for a uid/gid pair.
func unixIDsField(uid, gid uint32) []byte {
	out := make([]byte, 0, 11)
	out = append(out, 1) // version
	out = append(out, 4)
	out = binary.LittleEndian.AppendUint32(out, uid)
	out = append(out, 4)
	out = binary.LittleEndian.AppendUint32(out, gid)
	return out
}

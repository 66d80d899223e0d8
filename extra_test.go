// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
)

func TestExtraRoundTrip(t *testing.T) {
	in := ExtraFields{
		{ID: 0xcafe, Data: []byte{1, 2, 3}},
		{ID: tagExtTime, Data: []byte{1, 0, 0, 0, 0}},
		{ID: 0xcafe, Data: []byte{9}}, // duplicate tags are legal
	}
	out, err := parseExtras(in.encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d fields, want 3", len(out))
	}
	for i := range in {
		if out[i].ID != in[i].ID || !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("field %d: got %04x %v, want %04x %v", i, out[i].ID, out[i].Data, in[i].ID, in[i].Data)
		}
	}
}

func TestExtraZip64First(t *testing.T) {
	xs := ExtraFields{
		{ID: 0xcafe, Data: []byte{1}},
		{ID: tagZip64, Data: zip64Field(42)},
	}
	enc := xs.encode()
	if got := binary.LittleEndian.Uint16(enc); got != tagZip64 {
		t.Errorf("first encoded tag %04x, want zip64 %04x", got, tagZip64)
	}
}

func TestExtraTruncated(t *testing.T) {
	for _, raw := range [][]byte{
		{0x01},             // partial tag
		{0x01, 0x00, 0x08}, // partial length
		{0x01, 0x00, 0x08, 0x00, 0xaa}, // payload shorter than declared
	} {
		if _, err := parseExtras(raw); !errors.Is(err, ErrFormat) {
			t.Errorf("parseExtras(%x): got %v, want ErrFormat", raw, err)
		}
	}
}

func TestZip64Positional(t *testing.T) {
	// only the sentinel fields consume slots, in the fixed order
	usize := uint64(sentinel32)
	csize := uint64(123)
	offset := int64(sentinel32)
	xs := ExtraFields{{ID: tagZip64, Data: zip64Field(1 << 33, 1 << 40)}}
	if err := xs.applyZip64(&usize, &csize, &offset, nil); err != nil {
		t.Fatal(err)
	}
	if usize != 1<<33 || csize != 123 || offset != 1<<40 {
		t.Errorf("got usize=%d csize=%d offset=%d", usize, csize, offset)
	}
}

func TestZip64Short(t *testing.T) {
	usize := uint64(sentinel32)
	csize := uint64(sentinel32)
	offset := int64(0)
	xs := ExtraFields{{ID: tagZip64, Data: zip64Field(7)}} // one value, two needed
	if err := xs.applyZip64(&usize, &csize, &offset, nil); !errors.Is(err, ErrFormat) {
		t.Errorf("got %v, want ErrFormat", err)
	}
}

func TestUnicodePath(t *testing.T) {
	raw := []byte("caf\xe9.txt") // latin-1 name in the header
	utf := "café.txt"
	payload := append([]byte{1}, binary.LittleEndian.AppendUint32(nil, crc32.ChecksumIEEE(raw))...)
	payload = append(payload, utf...)
	xs := ExtraFields{{ID: tagUnicodePath, Data: payload}}

	got, ok := xs.unicodePath(raw)
	if !ok || got != utf {
		t.Errorf("got %q, %v; want %q, true", got, ok, utf)
	}

	// a stale field (name since renamed) must be ignored
	if _, ok := xs.unicodePath([]byte("renamed.txt")); ok {
		t.Error("accepted unicode path with mismatched name CRC")
	}
}

func TestUnixIDs(t *testing.T) {
	xs := ExtraFields{{ID: tagUnixIDs, Data: unixIDsField(1000, 1001)}}
	uid, gid, ok := xs.unixIDs()
	if !ok || uid != 1000 || gid != 1001 {
		t.Errorf("got %d/%d/%v, want 1000/1001/true", uid, gid, ok)
	}
}

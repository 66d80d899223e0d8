// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"
)

func ownReader(t *testing.T, raw []byte, opts ...ReaderOption) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(raw), int64(len(raw)), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestWriteVsStdlib(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.SetComment("written by dnzip"); err != nil {
		t.Fatal(err)
	}
	if err := w.AddBytes("a.txt", []byte("alpha"), WithMethod(Store)); err != nil {
		t.Fatal(err)
	}
	if err := w.AddBytes("b/c.txt", []byte(strings.Repeat("beta ", 1000))); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDir("b"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if zr.Comment != "written by dnzip" {
		t.Errorf("comment: %q", zr.Comment)
	}
	want := map[string]string{
		"a.txt":   "alpha",
		"b/c.txt": strings.Repeat("beta ", 1000),
		"b/":      "",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("%d entries, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		body, ok := want[f.Name]
		if !ok {
			t.Errorf("unexpected entry %q", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("%q: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("%q: %v", f.Name, err)
		}
		if string(got) != body {
			t.Errorf("%q: %d bytes back, want %d", f.Name, len(got), len(body))
		}
	}
}

func TestMethodRoundTrips(t *testing.T) {
	body := []byte(strings.Repeat("compressible text, repeated a lot. ", 500))
	for _, method := range []uint16{Store, Deflate, BZip2, LZMA, Zstd, XZ} {
		t.Run(fmt.Sprintf("method%d", method), func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			if err := w.AddBytes("data", body, WithMethod(method)); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r := ownReader(t, buf.Bytes())
			e := r.Entries()[0]
			if e.Method != method {
				t.Errorf("stored method %d", e.Method)
			}
			if e.UncompressedSize != uint64(len(body)) {
				t.Errorf("usize %d, want %d", e.UncompressedSize, len(body))
			}
			if got := readEntry(t, r, "data"); !bytes.Equal(got, body) {
				t.Errorf("%d bytes back, want %d", len(got), len(body))
			}
		})
	}
}

func TestEntryMetadata(t *testing.T) {
	when := time.Date(2023, 11, 12, 13, 14, 16, 0, time.UTC)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.AddBytes("meta.bin", []byte("x"),
		WithMethod(Store),
		WithModified(when),
		WithMode(0o640),
		WithEntryComment("per-entry comment"),
		WithUnixIDs(1000, 100),
		WithNTFSTimes(),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := ownReader(t, buf.Bytes())
	e, ok := r.Lookup("meta.bin")
	if !ok {
		t.Fatal("entry missing")
	}
	if !e.Modified.Equal(when) {
		t.Errorf("modified %v, want %v", e.Modified, when)
	}
	if e.Mode.Perm() != 0o640 {
		t.Errorf("mode %v", e.Mode)
	}
	if e.Comment != "per-entry comment" {
		t.Errorf("comment %q", e.Comment)
	}
	if uid, gid, ok := e.Extra.unixIDs(); !ok || uid != 1000 || gid != 100 {
		t.Errorf("owner %d/%d/%v", uid, gid, ok)
	}
	if _, ok := e.Extra.find(tagNTFS); !ok {
		t.Error("ntfs times missing")
	}
}

func TestUTF8Flag(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, name := range []string{"plain.txt", "naïve.txt"} {
		if err := w.AddBytes(name, nil, WithMethod(Store)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := ownReader(t, buf.Bytes())
	if e, _ := r.Lookup("plain.txt"); e.UTF8() {
		t.Error("ascii name flagged utf-8")
	}
	if e, _ := r.Lookup("naïve.txt"); !e.UTF8() {
		t.Error("non-ascii name not flagged utf-8")
	}
}

func TestWriterClosed(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	before := buf.Len()
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if buf.Len() != before {
		t.Error("second close wrote bytes")
	}
	if err := w.AddBytes("late", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("add after close: %v", err)
	}
}

func TestCommentTooLong(t *testing.T) {
	w := NewWriter(io.Discard)
	if err := w.SetComment(strings.Repeat("c", maxCommentLen+1)); !errors.Is(err, errLongComment) {
		t.Errorf("got %v", err)
	}
	if err := w.AddBytes("n", nil, WithEntryComment(strings.Repeat("c", maxCommentLen+1))); !errors.Is(err, errLongComment) {
		t.Errorf("entry comment: got %v", err)
	}
}

// writeEnd is exercised directly so the ZIP64 trailer paths don't need
// multi-gigabyte fixtures.
func TestTrailerZip64(t *testing.T) {
	cases := []struct {
		name                    string
		count, cdSize, cdOffset uint64
		zip64                   bool
	}{
		{"small", 3, 100, 50, false},
		{"maxCount", sentinel16, 100, 50, false}, // 65535 entries fit the classic record
		{"overCount", sentinel16 + 1, 100, 50, true},
		{"bigOffset", 3, 100, 1 << 33, true},
		{"sentinelSize", 3, sentinel32, 50, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			// pretend the entries and directory were already written, so
			// the offsets inside the trailer are honest
			pad := int64(tc.cdOffset + tc.cdSize)
			w.cw.n = pad
			if err := w.writeEnd(tc.count, tc.cdSize, tc.cdOffset); err != nil {
				t.Fatal(err)
			}
			stream := &zerosThen{data: buf.Bytes(), pad: pad}
			size := pad + int64(buf.Len())

			eocd, eocdOffset, err := findEOCD(stream, size)
			if err != nil {
				t.Fatal(err)
			}
			end, _, err := resolveEnd(stream, size, eocd, eocdOffset)
			if err != nil {
				t.Fatal(err)
			}
			if end.zip64 != tc.zip64 {
				t.Errorf("zip64 = %v, want %v", end.zip64, tc.zip64)
			}
			if end.count != tc.count {
				t.Errorf("count %d, want %d", end.count, tc.count)
			}
			if uint64(end.cdSize) != tc.cdSize || uint64(end.cdOffset) != tc.cdOffset {
				t.Errorf("directory %d@%d, want %d@%d", end.cdSize, end.cdOffset, tc.cdSize, tc.cdOffset)
			}
		})
	}
}

func TestManyEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("65536-entry archives take a while")
	}
	for _, n := range []int{sentinel16, sentinel16 + 1} {
		var buf bytes.Buffer
		w := NewWriter(&buf)
		for i := 0; i < n; i++ {
			if err := w.AddBytes(fmt.Sprintf("f%05x", i), nil, WithMethod(Store)); err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}

		r := ownReader(t, buf.Bytes())
		if len(r.Entries()) != n {
			t.Fatalf("n=%d: read back %d entries", n, len(r.Entries()))
		}
		// cross-check with the independent implementation
		zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		if err != nil {
			t.Fatalf("n=%d: stdlib: %v", n, err)
		}
		if len(zr.File) != n {
			t.Fatalf("n=%d: stdlib read %d entries", n, len(zr.File))
		}
	}
}

func TestAddFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sample.txt"
	if err := os.WriteFile(path, []byte("file body"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.AddFile("sample.txt", path); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := ownReader(t, buf.Bytes())
	if got := readEntry(t, r, "sample.txt"); string(got) != "file body" {
		t.Errorf("got %q", got)
	}
	e, _ := r.Lookup("sample.txt")
	if e.Mode&fs.ModeDir != 0 {
		t.Error("regular file marked as directory")
	}
}

func TestSpillBuffer(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789abcdef"), 64) // 1 KiB
	s := newSpillBuffer(100)                             // force the file path
	defer s.Close()
	if _, err := s.Write(body); err != nil {
		t.Fatal(err)
	}
	if s.Len() != int64(len(body)) {
		t.Errorf("Len = %d", s.Len())
	}
	var out bytes.Buffer
	if _, err := s.WriteTo(&out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), body) {
		t.Error("spilled bytes differ")
	}
}

// zerosThen reads as pad zero bytes followed by data, standing in for
// archive bodies too large to materialize in a test.
type zerosThen struct {
	data []byte
	pad  int64
}

func (z *zerosThen) ReadAt(p []byte, off int64) (int, error) {
	size := z.pad + int64(len(z.data))
	n := 0
	for n < len(p) {
		o := off + int64(n)
		if o >= size {
			return n, io.EOF
		}
		if o < z.pad {
			k := min(int64(len(p)-n), z.pad-o)
			for i := range p[n : n+int(k)] {
				p[n+i] = 0
			}
			n += int(k)
			continue
		}
		n += copy(p[n:], z.data[o-z.pad:])
	}
	return n, nil
}

// writer that fails after a fixed number of bytes, for poisoning tests
type failAfter struct {
	n int
}

func (f *failAfter) Write(p []byte) (int, error) {
	if len(p) > f.n {
		n := f.n
		f.n = 0
		return n, errors.New("disk full")
	}
	f.n -= len(p)
	return len(p), nil
}

func TestWriterPoisoned(t *testing.T) {
	w := NewWriter(&failAfter{n: 10})
	if err := w.AddBytes("a", []byte("payload"), WithMethod(Store)); err == nil {
		t.Fatal("short write not reported")
	}
	if err := w.AddBytes("b", nil); err == nil {
		t.Fatal("poisoned writer accepted another entry")
	}
	if err := w.Close(); err == nil {
		t.Fatal("poisoned writer closed cleanly")
	}
}

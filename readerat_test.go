// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func randomArchive(t *testing.T, size int) ([]byte, []byte) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	body := make([]byte, size)
	for i := range body {
		body[i] = byte('a' + rng.Intn(16)) // compressible but not trivial
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.AddBytes("blob", body); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes(), body
}

func TestReaderAtMatchesSequential(t *testing.T) {
	raw, body := randomArchive(t, 5*cacheBlockSize+321)
	r := ownReader(t, raw, WithCacheBlocks(16))
	e, _ := r.Lookup("blob")
	ra, err := r.OpenReaderAt(e)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		off := rng.Int63n(int64(len(body)))
		n := rng.Intn(3 * cacheBlockSize)
		p := make([]byte, n)
		got, err := ra.ReadAt(p, off)
		want := body[off:min(off+int64(n), int64(len(body)))]
		if got != len(want) {
			t.Fatalf("ReadAt(%d, %d) = %d bytes, want %d (err %v)", n, off, got, len(want), err)
		}
		if err != nil && err != io.EOF {
			t.Fatalf("ReadAt(%d, %d): %v", n, off, err)
		}
		if !bytes.Equal(p[:got], want) {
			t.Fatalf("ReadAt(%d, %d): content mismatch", n, off)
		}
	}
}

func TestReaderAtEnds(t *testing.T) {
	raw, body := randomArchive(t, 1000)
	r := ownReader(t, raw)
	e, _ := r.Lookup("blob")
	ra, err := r.OpenReaderAt(e)
	if err != nil {
		t.Fatal(err)
	}

	p := make([]byte, 100)
	if _, err := ra.ReadAt(p, int64(len(body))); err != io.EOF {
		t.Errorf("read at end: %v, want EOF", err)
	}
	n, err := ra.ReadAt(p, int64(len(body))-30)
	if n != 30 || err != io.EOF {
		t.Errorf("read across end: %d, %v, want 30, EOF", n, err)
	}

	// a backward seek after reading the tail restarts decompression
	if _, err := ra.ReadAt(p, 0); err != nil {
		t.Errorf("rewind: %v", err)
	}
	if !bytes.Equal(p, body[:100]) {
		t.Error("rewound read differs")
	}
}

func TestReaderAtWithSectionReader(t *testing.T) {
	raw, body := randomArchive(t, 3000)
	r := ownReader(t, raw)
	e, _ := r.Lookup("blob")
	ra, err := r.OpenReaderAt(e)
	if err != nil {
		t.Fatal(err)
	}

	// the whole point of the interface: nest it under io.SectionReader
	sec := io.NewSectionReader(ra, 1000, 500)
	got, err := io.ReadAll(sec)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body[1000:1500]) {
		t.Error("section content differs")
	}
}

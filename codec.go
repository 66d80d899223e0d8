// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	rootxz "github.com/therootcompany/xz"
	ulixz "github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// A Compressor returns a WriteCloser that compresses into w at the
// given level; Close flushes without closing w. Level 0 means the
// codec's default; codecs without levels ignore it.
type Compressor func(w io.Writer, level int) (io.WriteCloser, error)

// A Decompressor returns a ReadCloser over the decompressed form of r.
// r is already limited to exactly the entry's compressed extent.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

// A CodecSet maps compression method ids to codec constructors. The
// zero value is unusable; NewCodecSet returns one preloaded with
// Store, Deflate, BZip2, LZMA, Zstd and XZ.
type CodecSet struct {
	mu   sync.RWMutex
	comp map[uint16]Compressor
	dec  map[uint16]Decompressor
}

func NewCodecSet() *CodecSet {
	cs := &CodecSet{
		comp: make(map[uint16]Compressor),
		dec:  make(map[uint16]Decompressor),
	}
	cs.RegisterCompressor(Store, storeCompressor)
	cs.RegisterDecompressor(Store, storeDecompressor)
	cs.RegisterCompressor(Deflate, deflateCompressor)
	cs.RegisterDecompressor(Deflate, deflateDecompressor)
	cs.RegisterCompressor(BZip2, bzip2Compressor)
	cs.RegisterDecompressor(BZip2, bzip2Decompressor)
	cs.RegisterCompressor(LZMA, lzmaCompressor)
	cs.RegisterDecompressor(LZMA, lzmaDecompressor)
	cs.RegisterCompressor(Zstd, zstdCompressor)
	cs.RegisterDecompressor(Zstd, zstdDecompressor)
	cs.RegisterCompressor(XZ, xzCompressor)
	cs.RegisterDecompressor(XZ, xzDecompressor)
	return cs
}

// RegisterCompressor installs or overrides the compressor for a method.
func (cs *CodecSet) RegisterCompressor(method uint16, c Compressor) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.comp[method] = c
}

// RegisterDecompressor installs or overrides the decompressor for a method.
func (cs *CodecSet) RegisterDecompressor(method uint16, d Decompressor) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.dec[method] = d
}

func (cs *CodecSet) compressor(method uint16) (Compressor, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if c, ok := cs.comp[method]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: method %d", ErrAlgorithm, method)
}

func (cs *CodecSet) decompressor(method uint16) (Decompressor, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if d, ok := cs.dec[method]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: method %d", ErrAlgorithm, method)
}

var defaultCodecs = NewCodecSet()

// nopWriteCloser passes bytes through untouched (the Store method).
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func storeCompressor(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func storeDecompressor(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func deflateCompressor(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	return flate.NewWriter(w, level)
}

func deflateDecompressor(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

func bzip2Compressor(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = bzip2.DefaultCompression
	}
	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
}

func bzip2Decompressor(r io.Reader) (io.ReadCloser, error) {
	zr, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

func zstdCompressor(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		return zstd.NewWriter(w)
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

func zstdDecompressor(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return zr.IOReadCloser(), nil
}

func xzCompressor(w io.Writer, _ int) (io.WriteCloser, error) {
	return ulixz.NewWriter(w)
}

func xzDecompressor(r io.Reader) (io.ReadCloser, error) {
	zr, err := rootxz.NewReader(r, rootxz.DefaultDictMax)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(zr), nil
}

// ZIP frames LZMA (method 14) as version:2 + propsize:2 + the 5
// property bytes, then the raw stream: the lzma-alone layout minus its
// 8-byte length field. The adapters below translate between that and
// the classic 13-byte header the lzma package speaks.

func lzmaDecompressor(r io.Reader) (io.ReadCloser, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated lzma header", ErrFormat)
	}
	propSize := int(binary.LittleEndian.Uint16(hdr[2:]))
	if propSize != 5 {
		return nil, fmt.Errorf("%w: lzma property size %d", ErrFormat, propSize)
	}
	classic := make([]byte, 13)
	if _, err := io.ReadFull(r, classic[:5]); err != nil {
		return nil, fmt.Errorf("%w: truncated lzma properties", ErrFormat)
	}
	for i := 5; i < 13; i++ {
		classic[i] = 0xff // length unknown, terminated by EOS or caller's limit
	}
	zr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(classic), r))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(zr), nil
}

func lzmaCompressor(w io.Writer, _ int) (io.WriteCloser, error) {
	return lzma.NewWriter(&lzmaReframer{dst: w})
}

// lzmaReframer swallows the classic 13-byte header the lzma writer
// emits and replaces it with the ZIP framing before letting payload
// bytes through.
type lzmaReframer struct {
	dst io.Writer
	hdr []byte
}

func (rw *lzmaReframer) Write(p []byte) (int, error) {
	consumed := 0
	if len(rw.hdr) < 13 {
		take := min(13-len(rw.hdr), len(p))
		rw.hdr = append(rw.hdr, p[:take]...)
		consumed += take
		p = p[take:]
		if len(rw.hdr) == 13 {
			out := make([]byte, 0, 9)
			out = append(out, 9, 4) // claimed SDK version, as zipfile tools write
			out = binary.LittleEndian.AppendUint16(out, 5)
			out = append(out, rw.hdr[:5]...)
			if _, err := rw.dst.Write(out); err != nil {
				return consumed, err
			}
		}
		if len(p) == 0 {
			return consumed, nil
		}
	}
	n, err := rw.dst.Write(p)
	return consumed + n, err
}

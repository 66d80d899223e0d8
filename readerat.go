// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

// cacheBlockSize is the granularity of the decompressed-block cache.
// 64 KiB amortizes decompression restarts without holding much memory
// per admitted key.
const cacheBlockSize = 64 * 1024

// blockKey addresses one decompressed block of one entry. The header
// offset identifies the entry uniquely even across duplicate names.
type blockKey struct {
	headerOffset int64
	block        int64
}

func blockHash(k blockKey) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k.headerOffset))
	binary.LittleEndian.PutUint64(b[8:], uint64(k.block))
	return xxhash.Sum64(b[:])
}

// blockCache is a mutex-guarded TinyLFU over decompressed blocks,
// shared by every ReaderAt spawned from one Reader.
type blockCache struct {
	mu  sync.Mutex
	lfu *tinylfu.T[blockKey, []byte]
}

func newBlockCache(blocks int) *blockCache {
	return &blockCache{
		lfu: tinylfu.New[blockKey, []byte](blocks, blocks*10, blockHash),
	}
}

func (c *blockCache) get(k blockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lfu.Get(k)
}

func (c *blockCache) add(k blockKey, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lfu.Add(k, v)
}

// OpenReaderAt returns random access to one entry's decompressed
// content. Sequential-only codecs make backward seeks expensive, so
// decompressed 64 KiB blocks are cached across all ReaderAts of this
// Reader; a read behind the decompressor's position that misses the
// cache restarts decompression from the top of the entry.
//
// The returned ReaderAt is safe for concurrent use. Checksums are not
// verified on this path: random access rarely covers the whole entry.
func (r *Reader) OpenReaderAt(e *Entry) (io.ReaderAt, error) {
	if e.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %q", ErrEncrypted, e.Name)
	}
	if _, err := r.codecs.decompressor(e.Method); err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	r.cacheOnce.Do(func() { r.cache = newBlockCache(r.cacheBlocks) })
	return &entryReaderAt{r: r, e: e, size: int64(e.UncompressedSize)}, nil
}

type entryReaderAt struct {
	r    *Reader
	e    *Entry
	size int64

	mu     sync.Mutex
	stream io.ReadCloser // current sequential decompressor, nil until first miss
	pos    int64         // decompressed offset the stream has reached
}

func (ra *entryReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrBounds, off)
	}
	if off >= ra.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < ra.size {
		blk := off &^ (cacheBlockSize - 1)
		data, err := ra.block(blk)
		if err != nil {
			return n, err
		}
		if off-blk >= int64(len(data)) {
			break
		}
		c := copy(p[n:], data[off-blk:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// block returns the decompressed block starting at blk, from cache or
// by advancing (or restarting) the sequential stream.
func (ra *entryReaderAt) block(blk int64) ([]byte, error) {
	key := blockKey{headerOffset: ra.e.HeaderOffset, block: blk}
	if data, ok := ra.r.cache.get(key); ok {
		return data, nil
	}

	ra.mu.Lock()
	defer ra.mu.Unlock()
	if data, ok := ra.r.cache.get(key); ok { // filled while we waited
		return data, nil
	}
	if ra.stream == nil || blk < ra.pos {
		if ra.stream != nil {
			ra.stream.Close()
		}
		// bypass checksum accounting: we will not read to the end
		dataOffset, err := ra.r.entryDataOffset(ra.e)
		if err != nil {
			return nil, err
		}
		dec, err := ra.r.codecs.decompressor(ra.e.Method)
		if err != nil {
			return nil, err
		}
		rc, err := dec(io.NewSectionReader(ra.r.ra, dataOffset, int64(ra.e.CompressedSize)))
		if err != nil {
			return nil, err
		}
		ra.stream = rc
		ra.pos = 0
	}
	// decompress forward, caching every block on the way to blk
	for {
		want := min(int64(cacheBlockSize), ra.size-ra.pos)
		data := make([]byte, want)
		read, err := io.ReadFull(ra.stream, data)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("dnzip: decompressing %q: %w", ra.e.Name, err)
		}
		data = data[:read]
		cur := ra.pos
		ra.pos += int64(read)
		ra.r.cache.add(blockKey{headerOffset: ra.e.HeaderOffset, block: cur}, data)
		if cur == blk {
			return data, nil
		}
		if int64(read) < want || ra.pos >= ra.size {
			return nil, fmt.Errorf("%w: %q ends at %d, block %d requested", ErrBounds, ra.e.Name, ra.pos, blk)
		}
	}
}

// Close releases the underlying sequential decompressor, if any.
// Cached blocks stay valid.
func (ra *entryReaderAt) Close() error {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	if ra.stream == nil {
		return nil
	}
	err := ra.stream.Close()
	ra.stream = nil
	return err
}

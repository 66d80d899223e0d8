// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"fmt"
	"io"
	"io/fs"
	"sync"
)

// A Reader indexes one archive held in an io.ReaderAt. The whole
// central directory is parsed up front; entries are immutable
// afterwards. Independent Readers over the same file need no
// coordination; a single Reader is safe for concurrent Opens because
// every read is positioned, not seeked.
type Reader struct {
	ra     io.ReaderAt
	size   int64
	base   int64 // correction for junk prepended to the archive
	policy CRCPolicy
	codecs *CodecSet

	comment string
	entries []*Entry
	index   map[string]*Entry

	cacheBlocks int
	cacheOnce   sync.Once
	cache       *blockCache

	warnMu   sync.Mutex
	warnings []error
}

type ReaderOption func(*Reader)

// WithCRCPolicy selects what a CRC mismatch does on read. Default
// CRCStrict.
func WithCRCPolicy(p CRCPolicy) ReaderOption {
	return func(r *Reader) { r.policy = p }
}

// WithCodecs substitutes the codec registry consulted by Open.
func WithCodecs(cs *CodecSet) ReaderOption {
	return func(r *Reader) { r.codecs = cs }
}

// WithCacheBlocks sizes the decompressed-block cache behind
// OpenReaderAt, in 64 KiB blocks. Default 256.
func WithCacheBlocks(n int) ReaderOption {
	return func(r *Reader) { r.cacheBlocks = n }
}

// NewReader parses the archive trailer and central directory of the
// stream held in ra. Structural problems fail here, immediately;
// per-entry checksum problems wait until that entry is read.
func NewReader(ra io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		ra:          ra,
		size:        size,
		policy:      CRCStrict,
		codecs:      defaultCodecs,
		cacheBlocks: 256,
		index:       make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	eocd, eocdOffset, err := findEOCD(ra, size)
	if err != nil {
		return nil, err
	}
	end, dirEnd, err := resolveEnd(ra, size, eocd, eocdOffset)
	if err != nil {
		return nil, err
	}
	r.comment = end.comment

	if end.cdOffset > dirEnd {
		return nil, fmt.Errorf("%w: central directory offset %d beyond its end %d", ErrFormat, end.cdOffset, dirEnd)
	}
	if !end.zip64 {
		// Fix zip files that are carelessly appended to non-zip data,
		// the creating program unaware of the leading data. ZIP64 files
		// carry absolute offsets in the locator, so no correction there.
		r.base = dirEnd - end.cdSize - end.cdOffset
		if r.base < 0 {
			r.base = 0
		}
	}

	dirStart := r.base + end.cdOffset
	if dirStart > dirEnd {
		return nil, fmt.Errorf("%w: central directory starts at %d, past its end %d", ErrBounds, dirStart, dirEnd)
	}
	dir := newCursor(ra, dirStart, dirEnd-dirStart)

	prevOffset := int64(-1)
	for i := uint64(0); i < end.count; i++ {
		if dir.remaining() < centralHeaderLen {
			return nil, fmt.Errorf("%w: central directory holds %d records, EOCD declares %d", ErrFormat, i, end.count)
		}
		e, err := parseCentralRecord(dir, dirStart)
		if err != nil {
			return nil, err
		}
		if e.HeaderOffset <= prevOffset {
			return nil, fmt.Errorf("%w: central record %d offset %d not increasing", ErrFormat, i, e.HeaderOffset)
		}
		prevOffset = e.HeaderOffset
		r.entries = append(r.entries, e)
		r.index[e.Name] = e // duplicates: last encountered wins
	}
	return r, nil
}

// endRecord carries the resolved (possibly ZIP64-widened) trailer
// fields.
type endRecord struct {
	count    uint64
	cdSize   int64
	cdOffset int64
	comment  string
	zip64    bool
}

// findEOCD scans backward from end-of-stream for an EOCD whose comment
// length is consistent with its own position. The scan window is
// bounded to the largest possible record, 22 + 65535 bytes; nothing
// before the window is ever read.
func findEOCD(r io.ReaderAt, size int64) ([]byte, int64, error) {
	if size < eocdLen {
		return nil, 0, fmt.Errorf("%w: %d bytes is too small for an archive", ErrFormat, size)
	}
	window := min(size, eocdLen+maxCommentLen)
	tail := make([]byte, window)
	if _, err := io.ReadFull(io.NewSectionReader(r, size-window, window), tail); err != nil {
		return nil, 0, fmt.Errorf("dnzip: reading archive tail: %w", err)
	}
	for i := len(tail) - eocdLen; i >= 0; i-- {
		b := readBuf(tail[i:])
		if b.uint32() != sigEOCD {
			continue
		}
		cb := readBuf(tail[i+20:])
		commentLen := int(cb.uint16())
		if i+eocdLen+commentLen != len(tail) {
			continue // signature bytes inside a comment or payload
		}
		return tail[i:], size - window + int64(i), nil
	}
	return nil, 0, fmt.Errorf("%w: no end-of-central-directory record", ErrFormat)
}

// resolveEnd decodes the EOCD and, when any of its fields carries the
// sentinel, chases the ZIP64 locator and ZIP64 EOCD whose 64-bit
// values override it. Sentinel fields without a locator fall back to
// the 32-bit values: a 65535-entry archive legitimately stores 0xffff.
// Returns the resolved trailer and the offset the directory ends at.
func resolveEnd(r io.ReaderAt, size int64, eocd []byte, eocdOffset int64) (*endRecord, int64, error) {
	b := readBuf(eocd[4:])
	thisDisk := uint32(b.uint16())
	cdDisk := uint32(b.uint16())
	b.uint16() // records on this disk
	end := &endRecord{}
	end.count = uint64(b.uint16())
	end.cdSize = int64(b.uint32())
	end.cdOffset = int64(b.uint32())
	commentLen := int(b.uint16())
	end.comment = string(eocd[eocdLen : eocdLen+commentLen])
	dirEnd := eocdOffset

	sentinels := end.count == sentinel16 || end.cdSize == sentinel32 || end.cdOffset == sentinel32
	if sentinels && eocdOffset >= zip64LocatorLen {
		locator := make([]byte, zip64LocatorLen)
		if _, err := io.ReadFull(io.NewSectionReader(r, eocdOffset-zip64LocatorLen, zip64LocatorLen), locator); err != nil {
			return nil, 0, fmt.Errorf("dnzip: reading zip64 locator: %w", err)
		}
		lb := readBuf(locator)
		if lb.uint32() == sigZip64Locator {
			eocd64Disk := lb.uint32()
			eocd64Offset := int64(lb.uint64())
			totalDisks := lb.uint32()
			if eocd64Disk != 0 || totalDisks > 1 {
				return nil, 0, ErrNoSpanned
			}
			if eocd64Offset < 0 || eocd64Offset+zip64EOCDLen > size {
				return nil, 0, fmt.Errorf("%w: zip64 EOCD offset %d outside stream", ErrBounds, eocd64Offset)
			}
			eocd64 := make([]byte, zip64EOCDLen)
			if _, err := io.ReadFull(io.NewSectionReader(r, eocd64Offset, zip64EOCDLen), eocd64); err != nil {
				return nil, 0, fmt.Errorf("dnzip: reading zip64 EOCD: %w", err)
			}
			zb := readBuf(eocd64)
			if sig := zb.uint32(); sig != sigZip64EOCD {
				return nil, 0, badSignature("zip64 end of central directory", eocd64Offset, sig, sigZip64EOCD)
			}
			zb.uint64() // record size
			zb.uint16() // version made by
			zb.uint16() // version needed
			thisDisk = zb.uint32()
			cdDisk = zb.uint32()
			zb.uint64() // records on this disk
			end.count = zb.uint64()
			end.cdSize = int64(zb.uint64())
			end.cdOffset = int64(zb.uint64())
			end.zip64 = true
			dirEnd = eocd64Offset
		}
	}
	if thisDisk != 0 || cdDisk != 0 {
		return nil, 0, ErrNoSpanned
	}
	if end.cdSize < 0 || end.cdOffset < 0 || end.cdOffset > dirEnd {
		return nil, 0, fmt.Errorf("%w: central directory outside stream", ErrBounds)
	}
	return end, dirEnd, nil
}

// Comment returns the archive comment from the EOCD.
func (r *Reader) Comment() string { return r.comment }

// Entries returns every central directory record in storage order,
// duplicates included.
func (r *Reader) Entries() []*Entry { return r.entries }

// Lookup finds the entry for a name. When a name was stored more than
// once the last-written entry wins.
func (r *Reader) Lookup(name string) (*Entry, bool) {
	e, ok := r.index[name]
	return e, ok
}

// Warnings returns the CRC warnings accumulated under CRCWarn.
func (r *Reader) Warnings() []error {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	return append([]error(nil), r.warnings...)
}

func (r *Reader) recordWarning(err error) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	r.warnings = append(r.warnings, err)
}

// Open returns the decompressed content of the named entry. A missing
// name is an fs.ErrNotExist, distinct from any format error.
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	e, ok := r.index[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return r.OpenEntry(e)
}

// OpenEntry opens a specific entry, which is how duplicates shadowed in
// the name index stay reachable. Sizes and CRC are taken from the
// central directory; the local header is only re-validated and
// measured, so data-descriptor entries with placeholder local fields
// read correctly.
func (r *Reader) OpenEntry(e *Entry) (io.ReadCloser, error) {
	if e.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %q", ErrEncrypted, e.Name)
	}
	dec, err := r.codecs.decompressor(e.Method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	dataOffset, err := r.entryDataOffset(e)
	if err != nil {
		return nil, err
	}
	rc, err := dec(io.NewSectionReader(r.ra, dataOffset, int64(e.CompressedSize)))
	if err != nil {
		return nil, fmt.Errorf("dnzip: opening %q: %w", e.Name, err)
	}
	limited := &limitReadCloser{r: io.LimitReader(rc, int64(e.UncompressedSize)), c: rc}
	return newChecksumReader(limited, int64(e.UncompressedSize), e.CRC32, r.policy, e.Name, r.recordWarning), nil
}

// entryDataOffset walks the local header to the first payload byte,
// re-validating the local signature on the way.
func (r *Reader) entryDataOffset(e *Entry) (int64, error) {
	cur := newCursor(r.ra, 0, r.size)
	if err := cur.seek(r.base + e.HeaderOffset); err != nil {
		return 0, err
	}
	h, err := parseLocalHeader(cur, 0)
	if err != nil {
		return 0, err
	}
	if h.method != e.Method {
		return 0, fmt.Errorf("%w: local header method %d disagrees with central %d for %q",
			ErrFormat, h.method, e.Method, e.Name)
	}
	if h.dataOffset+int64(e.CompressedSize) > r.size {
		return 0, fmt.Errorf("%w: %q payload runs past end of stream", ErrBounds, e.Name)
	}
	return h.dataOffset, nil
}

type limitReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitReadCloser) Close() error               { return l.c.Close() }

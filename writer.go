// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

// A Writer produces an archive on a forward-only stream. Entries are
// emitted in the order they are added; sizes are known before each
// local header is written because payloads are staged through a spill
// buffer, so headers never need the data-descriptor escape hatch
// (AddStream provides that path separately).
//
// A Writer is not safe for concurrent use; Batch provides parallel
// compression on top of it.
type Writer struct {
	cw      *countWriter
	codecs  *CodecSet
	entries []*Entry
	comment string

	defaultMethod uint16
	level         int
	spillLimit    int

	streaming bool // an AddStream handle is open
	closed    bool
	err       error // first write error, poisons the Writer
}

type WriterOption func(*Writer)

// WithWriterCodecs substitutes the codec registry used for compression.
func WithWriterCodecs(cs *CodecSet) WriterOption {
	return func(w *Writer) { w.codecs = cs }
}

// WithDefaultMethod sets the method for entries that don't choose one.
// The default is Deflate.
func WithDefaultMethod(method uint16) WriterOption {
	return func(w *Writer) { w.defaultMethod = method }
}

// WithDefaultLevel sets the compression level passed to codecs when an
// entry doesn't choose one. Zero means each codec's default.
func WithDefaultLevel(level int) WriterOption {
	return func(w *Writer) { w.level = level }
}

// WithSpillLimit sets how many compressed bytes an entry may hold in
// memory before staging falls back to a temporary file. The default is
// 16 MiB.
func WithSpillLimit(n int) WriterOption {
	return func(w *Writer) { w.spillLimit = n }
}

func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	zw := &Writer{
		cw:            &countWriter{w: w},
		codecs:        defaultCodecs,
		defaultMethod: Deflate,
		spillLimit:    16 << 20,
	}
	for _, opt := range opts {
		opt(zw)
	}
	return zw
}

// SetComment sets the archive comment written into the EOCD.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > maxCommentLen {
		return errLongComment
	}
	w.comment = comment
	return nil
}

// entrySpec collects per-entry options before encoding.
type entrySpec struct {
	method   uint16
	level    int
	modified time.Time
	mode     fs.FileMode
	comment  string
	extra    ExtraFields
	ntfs     bool
}

type EntryOption func(*entrySpec)

// WithMethod selects the entry's compression method.
func WithMethod(method uint16) EntryOption {
	return func(s *entrySpec) { s.method = method }
}

// WithLevel selects the compression level for this entry alone.
func WithLevel(level int) EntryOption {
	return func(s *entrySpec) { s.level = level }
}

// WithModified sets the entry's modification time, stored both as the
// MS-DOS stamp and a UTC extended-timestamp field.
func WithModified(t time.Time) EntryOption {
	return func(s *entrySpec) { s.modified = t }
}

// WithMode sets the entry's file mode, mapped into unix external
// attributes.
func WithMode(mode fs.FileMode) EntryOption {
	return func(s *entrySpec) { s.mode = mode }
}

// WithEntryComment attaches a per-entry comment to the central record.
func WithEntryComment(comment string) EntryOption {
	return func(s *entrySpec) { s.comment = comment }
}

// WithUnixIDs attaches an Info-ZIP owner field (tag 0x7875).
func WithUnixIDs(uid, gid uint32) EntryOption {
	return func(s *entrySpec) { s.extra = s.extra.set(tagUnixIDs, unixIDsField(uid, gid)) }
}

// WithExtraField attaches an arbitrary extra-field subrecord to both
// headers. The ZIP64 tag is reserved; the writer manages it.
func WithExtraField(id uint16, data []byte) EntryOption {
	return func(s *entrySpec) {
		if id == tagZip64 {
			return
		}
		s.extra = append(s.extra, ExtraField{ID: id, Data: data})
	}
}

// WithNTFSTimes additionally stores the modification time as a
// 100ns-resolution NTFS field (tag 0x000a).
func WithNTFSTimes() EntryOption {
	return func(s *entrySpec) { s.ntfs = true }
}

func (w *Writer) spec(opts []EntryOption) *entrySpec {
	s := &entrySpec{
		method:   w.defaultMethod,
		level:    w.level,
		modified: time.Now(),
		mode:     0o644,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newEntry builds the Entry skeleton shared by all add paths.
func (w *Writer) newEntry(name string, s *entrySpec) (*Entry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty entry name", ErrFormat)
	}
	if len(name) > maxCommentLen {
		return nil, errLongName
	}
	if len(s.comment) > maxCommentLen {
		return nil, errLongComment
	}
	e := &Entry{
		Name:     name,
		RawName:  []byte(name),
		Comment:  s.comment,
		Method:   s.method,
		Mode:     s.mode,
		Modified: s.modified,
		Extra:    s.extra,
	}
	if valid, require := detectUTF8(name); valid && require {
		e.Flags |= flagUTF8
	}
	e.dosDate, e.dosTime = timeToMsDosTime(s.modified)
	e.Extra = e.Extra.set(tagExtTime, extTimeField(s.modified))
	if s.ntfs {
		e.Extra = e.Extra.set(tagNTFS, ntfsField(s.modified, s.modified, s.modified))
	}
	if extraLen := len(e.Extra.encode()); extraLen > maxCommentLen-3*12 {
		// leave headroom for the widest ZIP64 record the encoders may prepend
		return nil, errLongExtra
	}
	return e, nil
}

func (w *Writer) ready() error {
	switch {
	case w.err != nil:
		return w.err
	case w.closed:
		return ErrClosed
	case w.streaming:
		return fmt.Errorf("dnzip: stream entry still open: %w", ErrClosed)
	}
	return nil
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return err
}

// AddBytes writes one entry from an in-memory payload.
func (w *Writer) AddBytes(name string, data []byte, opts ...EntryOption) error {
	return w.AddReader(name, bytes.NewReader(data), opts...)
}

// AddReader compresses rd into one entry. The payload is staged so the
// local header carries real sizes and CRC; archives written this way
// are readable by consumers that cannot seek backwards over data
// descriptors.
func (w *Writer) AddReader(name string, rd io.Reader, opts ...EntryOption) error {
	if err := w.ready(); err != nil {
		return err
	}
	s := w.spec(opts)
	e, err := w.newEntry(name, s)
	if err != nil {
		return err
	}
	staged, err := w.stage(e, s, rd)
	if err != nil {
		return err
	}
	defer staged.Close()
	return w.emit(e, staged)
}

// AddDir writes a directory marker entry. The name gains a trailing
// slash if missing; directories carry no payload.
func (w *Writer) AddDir(name string, opts ...EntryOption) error {
	if err := w.ready(); err != nil {
		return err
	}
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	opts = append([]EntryOption{WithMode(fs.ModeDir | 0o755), WithMethod(Store)}, opts...)
	s := w.spec(opts)
	s.mode |= fs.ModeDir
	e, err := w.newEntry(name, s)
	if err != nil {
		return err
	}
	e.CRC32 = 0
	return w.emit(e, nil)
}

// AddFile archives the file at fsPath under the given entry name,
// carrying over its mode, modification time and (on unix) owner.
func (w *Writer) AddFile(name, fsPath string, opts ...EntryOption) error {
	f, err := os.Open(fsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return w.AddDir(name, append([]EntryOption{WithModified(fi.ModTime()), WithMode(fi.Mode())}, opts...)...)
	}
	pre := []EntryOption{WithModified(fi.ModTime()), WithMode(fi.Mode())}
	if uid, gid, ok := fileOwner(fsPath); ok {
		pre = append(pre, WithUnixIDs(uid, gid))
	}
	return w.AddReader(name, f, append(pre, opts...)...)
}

// stage compresses rd into a spill buffer, filling in the entry's CRC
// and both sizes.
func (w *Writer) stage(e *Entry, s *entrySpec, rd io.Reader) (*spillBuffer, error) {
	comp, err := w.codecs.compressor(e.Method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	staged := newSpillBuffer(w.spillLimit)
	cc, err := comp(staged, s.level)
	if err != nil {
		staged.Close()
		return nil, err
	}
	hash := crc32.NewIEEE()
	usize, err := io.Copy(io.MultiWriter(cc, hash), rd)
	if err == nil {
		err = cc.Close()
	}
	if err != nil {
		staged.Close()
		return nil, fmt.Errorf("dnzip: compressing %q: %w", e.Name, err)
	}
	e.CRC32 = hash.Sum32()
	e.UncompressedSize = uint64(usize)
	e.CompressedSize = uint64(staged.Len())
	return staged, nil
}

// emit writes the local header and staged payload at the current
// offset and records the entry for the central directory. Errors here
// leave the output stream mid-record, so they poison the Writer.
func (w *Writer) emit(e *Entry, staged *spillBuffer) error {
	e.HeaderOffset = w.cw.count()
	if _, err := w.cw.Write(encodeLocalHeader(e)); err != nil {
		return w.fail(err)
	}
	if staged != nil {
		if _, err := staged.WriteTo(w.cw); err != nil {
			return w.fail(err)
		}
	}
	w.entries = append(w.entries, e)
	return nil
}

// Count returns how many entries have been written so far.
func (w *Writer) Count() int { return len(w.entries) }

// Offset returns how many bytes have been written to the underlying
// stream so far.
func (w *Writer) Offset() int64 { return w.cw.count() }

// Close writes the central directory and end records. It does not
// close the underlying writer. Close is idempotent: later calls do
// nothing and return nil.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return nil
	}
	if w.streaming {
		return fmt.Errorf("dnzip: stream entry still open: %w", ErrClosed)
	}
	w.closed = true

	cdOffset := w.cw.count()
	for _, e := range w.entries {
		if _, err := w.cw.Write(encodeCentralRecord(e)); err != nil {
			return w.fail(err)
		}
	}
	cdSize := w.cw.count() - cdOffset
	return w.writeEnd(uint64(len(w.entries)), uint64(cdSize), uint64(cdOffset))
}

// writeEnd emits the EOCD, preceded by a ZIP64 EOCD and locator when
// any trailer field overflows. Exactly 65535 entries still fit the
// classic record; 65536 do not.
func (w *Writer) writeEnd(count, cdSize, cdOffset uint64) error {
	count16 := uint16(count)
	size32 := uint32(cdSize)
	offset32 := uint32(cdOffset)
	if count > sentinel16 || cdSize >= sentinel32 || cdOffset >= sentinel32 {
		eocd64Offset := uint64(w.cw.count())

		buf := make([]byte, zip64EOCDLen+zip64LocatorLen)
		b := writeBuf(buf)
		b.uint32(sigZip64EOCD)
		b.uint64(zip64EOCDLen - 12) // size of the rest of this record
		b.uint16(versionZip64)      // version made by
		b.uint16(versionZip64)      // version needed
		b.uint32(0)                 // this disk
		b.uint32(0)                 // directory's disk
		b.uint64(count)
		b.uint64(count)
		b.uint64(cdSize)
		b.uint64(cdOffset)
		b.uint32(sigZip64Locator)
		b.uint32(0) // disk holding the zip64 EOCD
		b.uint64(eocd64Offset)
		b.uint32(1) // total disks
		if _, err := w.cw.Write(buf); err != nil {
			return w.fail(err)
		}

		if count > sentinel16 {
			count16 = sentinel16
		}
		if cdSize >= sentinel32 {
			size32 = sentinel32
		}
		if cdOffset >= sentinel32 {
			offset32 = sentinel32
		}
	}

	buf := make([]byte, eocdLen+len(w.comment))
	b := writeBuf(buf)
	b.uint32(sigEOCD)
	b.uint16(0) // this disk
	b.uint16(0) // directory's disk
	b.uint16(count16)
	b.uint16(count16)
	b.uint32(size32)
	b.uint32(offset32)
	b.uint16(uint16(len(w.comment)))
	copy(b, w.comment)
	if _, err := w.cw.Write(buf); err != nil {
		return w.fail(err)
	}
	return nil
}

// countWriter tracks the absolute offset of the output stream, which
// becomes each entry's header offset.
type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countWriter) count() int64 { return cw.n }

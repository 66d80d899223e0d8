// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// AddStream opens an entry whose size is unknown in advance. The local
// header goes out immediately with flag bit 3 set and zeroed crc/size
// fields; bytes written to the returned handle are compressed straight
// to the output, and Close appends the data descriptor carrying the
// real values. Nothing is staged, so arbitrarily large entries cost
// constant memory.
//
// The Writer is locked until the handle is closed; adding another
// entry or closing the archive first fails.
func (w *Writer) AddStream(name string, opts ...EntryOption) (io.WriteCloser, error) {
	if err := w.ready(); err != nil {
		return nil, err
	}
	s := w.spec(opts)
	e, err := w.newEntry(name, s)
	if err != nil {
		return nil, err
	}
	e.Flags |= flagDescriptor

	e.HeaderOffset = w.cw.count()
	if _, err := w.cw.Write(encodeLocalHeader(e)); err != nil {
		return nil, w.fail(err)
	}

	comp, err := w.codecs.compressor(e.Method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	payloadStart := w.cw.count()
	cc, err := comp(w.cw, s.level)
	if err != nil {
		return nil, w.fail(err)
	}
	w.streaming = true
	return &streamEntry{
		w:            w,
		e:            e,
		cc:           cc,
		hash:         crc32.NewIEEE(),
		payloadStart: payloadStart,
	}, nil
}

type streamEntry struct {
	w            *Writer
	e            *Entry
	cc           io.WriteCloser
	hash         hash.Hash32
	usize        int64
	payloadStart int64
	closed       bool
}

func (se *streamEntry) Write(p []byte) (int, error) {
	if se.closed {
		return 0, ErrClosed
	}
	if se.w.err != nil {
		return 0, se.w.err
	}
	n, err := se.cc.Write(p)
	se.hash.Write(p[:n])
	se.usize += int64(n)
	if err != nil {
		return n, se.w.fail(err)
	}
	return n, nil
}

// Close flushes the codec, writes the data descriptor, and releases
// the Writer for further entries.
func (se *streamEntry) Close() error {
	if se.closed {
		return ErrClosed
	}
	se.closed = true
	se.w.streaming = false
	if se.w.err != nil {
		return se.w.err
	}
	if err := se.cc.Close(); err != nil {
		return se.w.fail(err)
	}

	se.e.CRC32 = se.hash.Sum32()
	se.e.UncompressedSize = uint64(se.usize)
	se.e.CompressedSize = uint64(se.w.cw.count() - se.payloadStart)
	if _, err := se.w.cw.Write(encodeDescriptor(se.e.CRC32, se.e.CompressedSize, se.e.UncompressedSize)); err != nil {
		return se.w.fail(err)
	}
	se.w.entries = append(se.w.entries, se.e)
	return nil
}

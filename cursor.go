// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// cursor is the bounds-checked read primitive every record parser goes
// through. It covers a declared extent [base, base+size) of an
// io.ReaderAt; no header field is ever trusted to justify a read past
// that extent.
type cursor struct {
	r    io.ReaderAt
	base int64
	size int64
	pos  int64 // next sequential read, relative to base
}

func newCursor(r io.ReaderAt, base, size int64) *cursor {
	return &cursor{r: r, base: base, size: size}
}

func (c *cursor) remaining() int64 { return c.size - c.pos }

func (c *cursor) tell() int64 { return c.pos }

func (c *cursor) seek(off int64) error {
	if off < 0 || off > c.size {
		return fmt.Errorf("%w: seek to %d of %d", ErrBounds, off, c.size)
	}
	c.pos = off
	return nil
}

// need reads exactly n bytes at the cursor and advances. Fewer than n
// bytes remaining in the extent is ErrBounds, not a short read.
func (c *cursor) need(n int) ([]byte, error) {
	if int64(n) > c.remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, %d remain", ErrBounds, n, c.remaining())
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(c.r, c.base+c.pos, int64(n)), p); err != nil {
		return nil, fmt.Errorf("dnzip: read at %d: %w", c.base+c.pos, err)
	}
	c.pos += int64(n)
	return p, nil
}

// skip advances past n bytes without reading them.
func (c *cursor) skip(n int64) error {
	if n < 0 || n > c.remaining() {
		return fmt.Errorf("%w: skip %d bytes, %d remain", ErrBounds, n, c.remaining())
	}
	c.pos += n
	return nil
}

// readBuf walks little-endian fields off a byte slice already pulled
// through the cursor.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	v := (*b)[:n]
	*b = (*b)[n:]
	return v
}

// writeBuf is the mirror image for encoding fixed-layout records.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

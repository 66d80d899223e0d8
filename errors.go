// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports a structurally invalid archive: a bad signature,
	// a truncated record, or bookkeeping that contradicts itself.
	ErrFormat = errors.New("dnzip: not a valid zip archive")

	// ErrBounds reports a record whose declared length reaches past the
	// extent it lives in. It is always a parse-time failure, never a
	// partial read.
	ErrBounds = errors.New("dnzip: record exceeds declared extent")

	// ErrChecksum reports a CRC32 mismatch on a fully read entry. Only
	// surfaced under [CRCStrict].
	ErrChecksum = errors.New("dnzip: checksum error")

	// ErrAlgorithm reports a compression method with no registered codec.
	ErrAlgorithm = errors.New("dnzip: unsupported compression algorithm")

	// ErrEncrypted reports an entry with the encryption bit set.
	ErrEncrypted = errors.New("dnzip: encrypted entries not supported")

	// ErrNoSpanned reports a multi-disk (spanned) archive.
	ErrNoSpanned = errors.New("dnzip: spanned archives not supported")

	// ErrClosed reports an operation on a Writer after Close, or one
	// poisoned by an earlier write failure.
	ErrClosed = errors.New("dnzip: writer is closed")

	errLongName    = errors.New("dnzip: entry name too long")
	errLongExtra   = errors.New("dnzip: extra field too long")
	errLongComment = errors.New("dnzip: comment longer than 65535 bytes")
)

// A FormatError pinpoints where in the stream a structural problem was
// found. It unwraps to [ErrFormat] so callers can match with errors.Is.
type FormatError struct {
	Offset int64  // absolute offset of the offending record
	Msg    string // what was being parsed
	Want   uint32 // expected signature, 0 if not a signature problem
	Got    uint32 // value actually read
}

func (e *FormatError) Error() string {
	if e.Want != 0 {
		return fmt.Sprintf("dnzip: %s at offset %d: signature %08x, want %08x", e.Msg, e.Offset, e.Got, e.Want)
	}
	return fmt.Sprintf("dnzip: %s at offset %d", e.Msg, e.Offset)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

func badSignature(msg string, off int64, got, want uint32) error {
	return &FormatError{Offset: off, Msg: msg, Want: want, Got: got}
}

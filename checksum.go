// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"log/slog"
)

// CRCPolicy decides what happens when a fully read entry's CRC32 does
// not match the central directory's value.
type CRCPolicy int

const (
	// CRCStrict fails the read with ErrChecksum. The default.
	CRCStrict CRCPolicy = iota
	// CRCWarn surfaces the data anyway and records a warning on the
	// Reader.
	CRCWarn
	// CRCSkip performs no comparison at all.
	CRCSkip
)

// checksumReader accumulates a CRC32 over a decompressed stream and
// applies the policy once the expected byte count has passed through.
type checksumReader struct {
	rc     io.ReadCloser
	hash   hash.Hash32
	remain int64
	want   uint32
	policy CRCPolicy
	name   string
	onWarn func(error)
	failed bool // hash check failed, refuse further reads
	done   bool
}

func newChecksumReader(rc io.ReadCloser, size int64, want uint32, policy CRCPolicy, name string, onWarn func(error)) io.ReadCloser {
	if policy == CRCSkip {
		return rc
	}
	return &checksumReader{
		rc:     rc,
		hash:   crc32.NewIEEE(),
		remain: size,
		want:   want,
		policy: policy,
		name:   name,
		onWarn: onWarn,
	}
}

func (r *checksumReader) Read(p []byte) (int, error) {
	if r.failed {
		return 0, fmt.Errorf("%w: %q", ErrChecksum, r.name)
	}
	n, err := r.rc.Read(p)
	r.hash.Write(p[:n])
	r.remain -= int64(n)
	if r.done || (r.remain > 0 && err != io.EOF) {
		return n, err
	}
	// all expected bytes seen (or the stream ended early): settle up
	r.done = true
	if got := r.hash.Sum32(); got != r.want {
		warning := fmt.Errorf("%w: %q: got %08x, want %08x", ErrChecksum, r.name, got, r.want)
		if r.policy == CRCStrict {
			r.failed = true
			return n, warning
		}
		slog.Warn("crcMismatch", "name", r.name, "got", got, "want", r.want)
		if r.onWarn != nil {
			r.onWarn(warning)
		}
	}
	return n, err
}

func (r *checksumReader) Close() error { return r.rc.Close() }

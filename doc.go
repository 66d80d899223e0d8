// Copyright (c) the DNZip authors.
// Licensed under the MIT license

// Package dnzip reads and writes ZIP and ZIP64 archive containers.
//
// The package deals with the container only: local file headers, the
// central directory, end-of-central-directory records, the ZIP64
// extension records, extra fields and data descriptors. Byte-stream
// transforms (DEFLATE, BZIP2, LZMA, ...) are pluggable codecs; a default
// set is registered for the methods commonly found in the wild.
//
// Reading wants an [io.ReaderAt] plus a size, like [archive/zip]:
//
//	r, err := dnzip.NewReader(f, size)
//	rc, err := r.Open("dir/file.txt")
//
// The central directory is authoritative: sizes and checksums recorded
// there win over the local header's copy, which keeps archives written
// through the streaming (data descriptor) path readable.
//
// Writing appends entries in call order and flushes the central
// directory on Close:
//
//	w := dnzip.NewWriter(f)
//	w.AddBytes("a.txt", data)
//	sw, _ := w.AddStream("big.bin")	// length unknown, data descriptor
//	io.Copy(sw, conn)
//	sw.Close()
//	err := w.Close()
//
// Entries larger than 32-bit fields can carry, and archives with more
// than 65535 entries, get ZIP64 records automatically.
package dnzip

// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"io"
	"os"
)

// spillBuffer stages one entry's compressed payload so its size is
// known before the local header goes out. Small payloads stay in
// memory; past the limit everything moves to an unlinked temporary
// file.
type spillBuffer struct {
	limit int
	mem   bytes.Buffer
	file  *os.File
	n     int64
}

func newSpillBuffer(limit int) *spillBuffer {
	return &spillBuffer{limit: limit}
}

func (s *spillBuffer) Write(p []byte) (int, error) {
	if s.file == nil && s.mem.Len()+len(p) > s.limit {
		f, err := os.CreateTemp("", "dnzip-spill-*")
		if err != nil {
			return 0, err
		}
		// unlink immediately so a crash leaves nothing behind
		os.Remove(f.Name())
		if _, err := f.Write(s.mem.Bytes()); err != nil {
			f.Close()
			return 0, err
		}
		s.mem.Reset()
		s.file = f
	}
	var n int
	var err error
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.n += int64(n)
	return n, err
}

func (s *spillBuffer) Len() int64 { return s.n }

// WriteTo drains the staged bytes into w. It may be called once.
func (s *spillBuffer) WriteTo(w io.Writer) (int64, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		return io.Copy(w, s.file)
	}
	return s.mem.WriteTo(w)
}

func (s *spillBuffer) Close() error {
	s.mem.Reset()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

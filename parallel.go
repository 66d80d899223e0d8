// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"bytes"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// A Batch compresses many entries in parallel and appends them to its
// Writer in submission order, so the archive layout is deterministic
// regardless of which compression finishes first. Add calls queue
// work; nothing touches the output stream until Flush.
//
// A Batch is not safe for concurrent Add calls; parallelism happens
// inside Flush.
type Batch struct {
	w       *Writer
	workers int
	jobs    []*batchJob
}

type batchJob struct {
	name   string
	open   func() (io.ReadCloser, error)
	opts   []EntryOption
	entry  *Entry
	staged *spillBuffer
}

// Batch starts a batch over this Writer. workers <= 0 means
// runtime.GOMAXPROCS(0).
func (w *Writer) Batch(workers int) *Batch {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Batch{w: w, workers: workers}
}

// AddBytes queues an in-memory payload.
func (b *Batch) AddBytes(name string, data []byte, opts ...EntryOption) {
	b.AddFunc(name, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, opts...)
}

// AddFunc queues an entry whose payload is produced lazily on a worker
// goroutine. open is called at most once.
func (b *Batch) AddFunc(name string, open func() (io.ReadCloser, error), opts ...EntryOption) {
	b.jobs = append(b.jobs, &batchJob{name: name, open: open, opts: opts})
}

// Flush compresses every queued entry with up to workers goroutines,
// then writes them out in the order they were added. On error the
// archive contains the longest error-free prefix of the batch; the
// rest is discarded. The queue is emptied either way.
func (b *Batch) Flush() error {
	if err := b.w.ready(); err != nil {
		return err
	}
	jobs := b.jobs
	b.jobs = nil
	defer func() {
		for _, j := range jobs {
			if j.staged != nil {
				j.staged.Close()
			}
		}
	}()

	var g errgroup.Group
	g.SetLimit(b.workers)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			s := b.w.spec(j.opts)
			e, err := b.w.newEntry(j.name, s)
			if err != nil {
				return err
			}
			rc, err := j.open()
			if err != nil {
				return err
			}
			defer rc.Close()
			staged, err := b.w.stage(e, s, rc)
			if err != nil {
				return err
			}
			j.entry, j.staged = e, staged
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, j := range jobs {
		if err := b.w.emit(j.entry, j.staged); err != nil {
			return err
		}
		j.staged.Close()
		j.staged = nil
	}
	return nil
}

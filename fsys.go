// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the entry paths matching a doublestar pattern, "**"
// included.
func (r *Reader) Glob(pattern string) ([]string, error) {
	return doublestar.Glob(r.FS(), pattern)
}

// FS presents the archive as a read-only fs.FS. Directories absent from
// the archive but implied by entry names are synthesized. Entries whose
// names are not valid fs paths are unreachable through this view; use
// Entries for those.
func (r *Reader) FS() fs.FS {
	return &archiveFS{r: r}
}

type archiveFS struct {
	r    *Reader
	once sync.Once
	tree map[string]*fsNode
}

// fsNode is one name in the synthesized tree: a file backed by an
// entry, a directory backed by an entry, or a directory with no entry
// at all.
type fsNode struct {
	name     string // full slash path, "." for the root
	entry    *Entry // nil for synthesized directories
	children []string
}

func (f *archiveFS) build() {
	f.tree = map[string]*fsNode{
		".": {name: "."},
	}
	dir := func(name string) *fsNode {
		n, ok := f.tree[name]
		if !ok {
			n = &fsNode{name: name}
			f.tree[name] = n
		}
		return n
	}
	link := func(parent, child string) {
		p := dir(parent)
		for _, c := range p.children {
			if c == child {
				return
			}
		}
		p.children = append(p.children, child)
	}
	for _, e := range f.r.entries {
		name := strings.TrimSuffix(e.Name, "/")
		if !fs.ValidPath(name) || name == "." {
			continue
		}
		n := dir(name)
		n.entry = e // duplicates: last wins, same as the name index
		// register the chain of parents up to the root
		for child := name; ; {
			parent := path.Dir(child)
			link(parent, child)
			if parent == "." {
				break
			}
			child = parent
		}
	}
	for _, n := range f.tree {
		sort.Strings(n.children)
	}
}

func (f *archiveFS) node(name string) (*fsNode, bool) {
	f.once.Do(f.build)
	n, ok := f.tree[name]
	return n, ok
}

func (n *fsNode) isDir() bool {
	return n.entry == nil || n.entry.IsDir()
}

func (f *archiveFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	n, ok := f.node(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if n.isDir() {
		return &fsDir{fs: f, node: n}, nil
	}
	rc, err := f.r.OpenEntry(n.entry)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{node: n, rc: rc}, nil
}

func (f *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	n, ok := f.node(name)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	if !n.isDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	out := make([]fs.DirEntry, 0, len(n.children))
	for _, c := range n.children {
		child := f.tree[c]
		out = append(out, fs.FileInfoToDirEntry(child.info()))
	}
	return out, nil
}

func (f *archiveFS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	n, ok := f.node(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return n.info(), nil
}

// Glob matches entry paths against a doublestar pattern, so "**" spans
// directory levels, which plain path.Match cannot.
func (f *archiveFS) Glob(pattern string) ([]string, error) {
	return doublestar.Glob(f, pattern)
}

func (n *fsNode) info() fs.FileInfo {
	return &fsInfo{node: n}
}

type fsInfo struct {
	node *fsNode
}

func (i *fsInfo) Name() string {
	if i.node.name == "." {
		return "."
	}
	return path.Base(i.node.name)
}

func (i *fsInfo) Size() int64 {
	if i.node.entry == nil || i.node.isDir() {
		return 0
	}
	return int64(i.node.entry.UncompressedSize)
}

func (i *fsInfo) Mode() fs.FileMode {
	if i.node.entry == nil {
		return fs.ModeDir | 0o555
	}
	return i.node.entry.Mode
}

func (i *fsInfo) ModTime() time.Time {
	if i.node.entry == nil {
		return time.Time{}
	}
	return i.node.entry.Modified
}

func (i *fsInfo) IsDir() bool { return i.node.isDir() }
func (i *fsInfo) Sys() any    { return i.node.entry }

// fsFile adapts one opened entry to fs.File.
type fsFile struct {
	node *fsNode
	rc   io.ReadCloser
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.node.info(), nil }
func (f *fsFile) Read(p []byte) (int, error) { return f.rc.Read(p) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir is an opened directory; Read fails, ReadDir pages through the
// children.
type fsDir struct {
	fs   *archiveFS
	node *fsNode
	pos  int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.node.info(), nil }
func (d *fsDir) Close() error               { return nil }

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.node.name, Err: fs.ErrInvalid}
}

func (d *fsDir) ReadDir(count int) ([]fs.DirEntry, error) {
	rest := d.node.children[d.pos:]
	if count <= 0 {
		count = len(rest)
	} else if len(rest) == 0 {
		return nil, io.EOF
	}
	if count > len(rest) {
		count = len(rest)
	}
	out := make([]fs.DirEntry, 0, count)
	for _, c := range rest[:count] {
		out = append(out, fs.FileInfoToDirEntry(d.fs.tree[c].info()))
	}
	d.pos += count
	return out, nil
}

// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import "io/fs"

const (
	// Unix constants. The specification doesn't mention them,
	// but these seem to be the values agreed on by tools.
	s_IFMT   = 0xf000
	s_IFSOCK = 0xc000
	s_IFLNK  = 0xa000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
	s_ISUID  = 0x800
	s_ISGID  = 0x400
	s_ISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// externalMode maps a central record's external attributes to an
// fs.FileMode according to the creator OS in the version-made-by field.
func externalMode(creatorOS byte, attrs uint32, isdir bool) fs.FileMode {
	var mode fs.FileMode
	switch creatorOS {
	case creatorUnix, creatorOSX:
		mode = unixModeToFileMode(attrs >> 16)
	case creatorFAT, creatorNTFS, creatorVFAT:
		mode = msdosModeToFileMode(attrs)
	default:
		if isdir {
			mode = 0o755
		} else {
			mode = 0o644
		}
	}
	if isdir {
		mode |= fs.ModeDir
	}
	return mode
}

// externalAttrs is the inverse used by the writer: unix mode bits in
// the high 16, MS-DOS compatibility bits in the low byte.
func externalAttrs(mode fs.FileMode) uint32 {
	attrs := fileModeToUnixMode(mode) << 16
	if mode.IsDir() {
		attrs |= msdosDir
	}
	if mode&0o200 == 0 {
		attrs |= msdosReadOnly
	}
	return attrs
}

func msdosModeToFileMode(m uint32) (mode fs.FileMode) {
	if m&msdosDir != 0 {
		mode = fs.ModeDir | 0o777
	} else {
		mode = 0o666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0o222
	}
	return mode
}

func unixModeToFileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0o777)
	switch m & s_IFMT {
	case s_IFBLK:
		mode |= fs.ModeDevice
	case s_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case s_IFDIR:
		mode |= fs.ModeDir
	case s_IFIFO:
		mode |= fs.ModeNamedPipe
	case s_IFLNK:
		mode |= fs.ModeSymlink
	case s_IFREG:
		// nothing to do
	case s_IFSOCK:
		mode |= fs.ModeSocket
	}
	if m&s_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&s_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&s_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func fileModeToUnixMode(mode fs.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&fs.ModeDir != 0:
		m |= s_IFDIR
	case mode&fs.ModeSymlink != 0:
		m |= s_IFLNK
	case mode&fs.ModeDevice != 0 && mode&fs.ModeCharDevice != 0:
		m |= s_IFCHR
	case mode&fs.ModeDevice != 0:
		m |= s_IFBLK
	case mode&fs.ModeNamedPipe != 0:
		m |= s_IFIFO
	case mode&fs.ModeSocket != 0:
		m |= s_IFSOCK
	default:
		m |= s_IFREG
	}
	if mode&fs.ModeSetgid != 0 {
		m |= s_ISGID
	}
	if mode&fs.ModeSetuid != 0 {
		m |= s_ISUID
	}
	if mode&fs.ModeSticky != 0 {
		m |= s_ISVTX
	}
	return m
}

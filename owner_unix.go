//go:build unix

// Copyright (c) the DNZip authors.
// Licensed under the MIT license

package dnzip

import "golang.org/x/sys/unix"

func fileOwner(fsPath string) (uid, gid uint32, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(fsPath, &st); err != nil {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}

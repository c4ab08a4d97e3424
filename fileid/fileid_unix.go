//go:build !windows

package fileid

import (
	"os"
	"syscall"
)

// Stat returns the (device, inode) identity of path on POSIX platforms,
// read from os.Lstat's stat_t Dev/Ino fields (the same data os.SameFile
// compares internally), so it's available outside any one backend.
func Stat(path string) (ID, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return ID{}, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return ID{}, os.ErrInvalid
	}
	return ID{Device: uint64(st.Dev), File: st.Ino}, nil
}

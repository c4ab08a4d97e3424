//go:build openbsd || netbsd || dragonfly

package internal

import "golang.org/x/sys/unix"

// names covers the NOTE_* flags common to every kqueue-based GOOS in
// debug_kqueue.go's build tag. FreeBSD and Darwin carry a few extra,
// platform-specific notes and define their own table instead of this one.
var names = []struct {
	n string
	m uint32
}{
	{"NOTE_DELETE", unix.NOTE_DELETE},
	{"NOTE_WRITE", unix.NOTE_WRITE},
	{"NOTE_EXTEND", unix.NOTE_EXTEND},
	{"NOTE_ATTRIB", unix.NOTE_ATTRIB},
	{"NOTE_LINK", unix.NOTE_LINK},
	{"NOTE_RENAME", unix.NOTE_RENAME},
	{"NOTE_REVOKE", unix.NOTE_REVOKE},
}

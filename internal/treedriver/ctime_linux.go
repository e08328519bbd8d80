//go:build linux

package treedriver

import (
	"os"
	"syscall"
	"time"
)

// ctime returns the file's inode-change time rather than its mtime: a
// chmod/chown/hardlink bumps ctime without touching content or mtime, and
// the pre-existing-file fatal/recoverable policy must not treat that as a
// content change.
func ctime(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}

//go:build darwin

package treedriver

import (
	"os"
	"syscall"
	"time"
)

// ctime returns the file's inode-change time rather than its mtime; see
// ctime_linux.go.
func ctime(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
}

//go:build !linux && !darwin

package treedriver

import (
	"os"
	"time"
)

// ctime falls back to mtime on platforms whose os.FileInfo.Sys() doesn't
// expose a POSIX inode-change time (e.g. Windows). A chmod/chown/hardlink
// on these platforms will be misread as a content change by the
// pre-existing-file policy; pgib targets Linux pgdata hosts, so this path
// only exists to keep the package building elsewhere.
func ctime(info os.FileInfo) time.Time {
	return info.ModTime()
}

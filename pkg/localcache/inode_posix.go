//go:build !windows

package localcache

import (
	"os"
	"syscall"
)

// inodeOf returns fi's inode number, or 0 if the platform's FileInfo.Sys
// doesn't expose one (in which case all such files share inode 0 and
// are charged as one set of bytes).
func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

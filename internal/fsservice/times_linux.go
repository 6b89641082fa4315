//go:build linux

package fsservice

import (
	"os"
	"syscall"
	"time"
)

// fileTimes returns the status-change and access times. Linux stat does not
// expose a birth time, so ctime stands in for creation.
func fileTimes(fi os.FileInfo) (created, accessed time.Time) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fi.ModTime(), fi.ModTime()
	}
	return time.Unix(st.Ctim.Unix()), time.Unix(st.Atim.Unix())
}

//go:build !linux && !darwin

package fsservice

import (
	"os"
	"time"
)

func fileTimes(fi os.FileInfo) (created, accessed time.Time) {
	return fi.ModTime(), fi.ModTime()
}

package cron

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// sweepDir walks root and removes regular files whose modification time is
// older than ttl, returning how many it removed. Directories left empty by
// the sweep are not themselves removed, since a job directory being empty
// just means that job's files already expired, not that the directory is
// garbage.
func sweepDir(root string, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

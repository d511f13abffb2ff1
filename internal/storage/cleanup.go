package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanupTemps removes downloaded source files in dir older than maxAge. It
// only touches names created by the Fetcher (s3src-*, srcdl-*) and converted
// documents (conv-*).
func CleanupTemps(dir string, maxAge time.Duration) {
	if dir == "" {
		dir = os.TempDir()
	}
	now := time.Now()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "s3src-") && !strings.HasPrefix(name, "srcdl-") && !strings.HasPrefix(name, "conv-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= maxAge {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
}

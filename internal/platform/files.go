package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Extensions considered downloadable media in the cache directory
var (
	MediaExtensions = []string{".mp4", ".mkv", ".webm"}
)

// EnsureDir creates the directory if it doesn't exist.
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, DefaultDirPermissions)
	}
	return nil
}

// CachedDownload looks for an already-downloaded media file whose name
// embeds the item's external ID. A hit must be non-empty to count; a
// zero-byte file is a leftover from an aborted run.
func CachedDownload(dir, externalID string) (string, bool) {
	if externalID == "" {
		return "", false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !isMediaFile(name) || !strings.Contains(name, externalID) {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			continue
		}
		return path, true
	}

	return "", false
}

// CleanupDownloads removes media files from the download directory,
// keeping any path listed in keep. Non-media files are left alone.
func CleanupDownloads(dir string, keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, path := range keep {
		keepSet[filepath.Clean(path)] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read download directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isMediaFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if keepSet[filepath.Clean(path)] {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}

	return removed, nil
}

func isMediaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, media := range MediaExtensions {
		if ext == media {
			return true
		}
	}
	return false
}

// Package file provides a filesystem-backed cache store.
package file

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pagelift/monetizer/internal/cache"
)

// Store persists cache entries as one JSON file per key under a base
// directory. File names are the SHA-256 of the key, so arbitrary key text
// never reaches the filesystem.
type Store struct {
	baseDir string
}

// NewStore verifies the directory exists and is writable.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	probe := filepath.Join(baseDir, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("cache directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Read loads the entry for key if its file exists.
func (s *Store) Read(key string) (cache.Entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return cache.Entry{}, false, nil
		}
		return cache.Entry{}, false, fmt.Errorf("read cache file: %w", err)
	}
	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A torn write is treated as a miss, not a failure.
		return cache.Entry{}, false, nil
	}
	return e, true, nil
}

// Write serializes the entry to its file.
func (s *Store) Write(key string, e cache.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(s.path(key), data, 0o600); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Delete removes the entry's file; missing files are not an error.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}

// Clear removes every cache file under the base directory.
func (s *Store) Clear() error {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return fmt.Errorf("list cache files: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove cache file: %w", err)
		}
	}
	return nil
}

func (s *Store) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.baseDir, hex.EncodeToString(sum[:])+".json")
}

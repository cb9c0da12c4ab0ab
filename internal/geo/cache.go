package geo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the persistent coordinate key to city mapping. The whole file is
// held in memory and rewritten on every new entry, which keeps the on-disk
// format a plain JSON object.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
	logger  *slog.Logger
}

// OpenCache loads the cache file at path. A missing or unreadable file yields
// an empty cache; the failure is logged, not returned. An empty path gives a
// memory-only cache.
func OpenCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		path:    path,
		entries: make(map[string]string),
		logger:  logger,
	}
	if path == "" {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to read geo cache, starting empty", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("failed to parse geo cache, starting empty", "path", path, "error", err)
		c.entries = make(map[string]string)
		return c
	}
	logger.Debug("geo cache loaded", "path", path, "entries", len(c.entries))
	return c
}

// Lookup returns the cached city for coord.
func (c *Cache) Lookup(coord Coordinate) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	city, ok := c.entries[coord.Key()]
	return city, ok && city != ""
}

// Store records city for coord and rewrites the backing file. Empty and
// unknown names are ignored so a failed resolution is retried next time.
func (c *Cache) Store(coord Coordinate, city string) error {
	if city == "" || city == UnknownCity {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := coord.Key()
	if existing, ok := c.entries[key]; ok && existing == city {
		return nil
	}
	c.entries[key] = city

	if c.path == "" {
		return nil
	}
	return c.writeLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) writeLocked() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(c.entries); err != nil {
		return fmt.Errorf("failed to encode geo cache: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create geo cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".geocache-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create geo cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write geo cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close geo cache: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace geo cache: %w", err)
	}
	return nil
}

package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"handbook-scraper/internal/ioformats"
	"handbook-scraper/internal/models"
)

var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

// SnapshotCache holds the parsed snapshot and re-reads the file only when its
// modification time changes.
type SnapshotCache struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	snap    *models.Snapshot
	byCode  map[string]*models.SubjectRecord
}

func NewSnapshotCache(path string) *SnapshotCache {
	return &SnapshotCache{path: path}
}

func (c *SnapshotCache) Get() (*models.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c.snap, nil
}

// Subject looks code up case-insensitively.
func (c *SnapshotCache) Subject(code string) (*models.SubjectRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refresh(); err != nil {
		return nil, err
	}
	return c.byCode[strings.ToUpper(strings.TrimSpace(code))], nil
}

func (c *SnapshotCache) refresh() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	if c.snap != nil && info.ModTime().Equal(c.modTime) {
		return nil
	}
	snap, err := ioformats.ReadSnapshot(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	byCode := make(map[string]*models.SubjectRecord, len(snap.Items))
	for i := range snap.Items {
		byCode[strings.ToUpper(snap.Items[i].Code)] = &snap.Items[i]
	}
	c.snap, c.byCode, c.modTime = snap, byCode, info.ModTime()
	return nil
}

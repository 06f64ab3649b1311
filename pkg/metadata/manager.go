// Package metadata stores the compound metadata of extracted slices and
// answers module lookups from it.
package metadata

import (
	"encoding/json"
	"errors"

	"github.com/coocood/freecache"

	"mprslicer/pkg/logging"
	"mprslicer/pkg/volume"
)

// DefaultCacheBytes is the manager capacity used when none is configured.
const DefaultCacheBytes = 32 << 20

// MinCacheBytes is the smallest capacity whose freecache segments still
// hold one encoded SliceMetaData entry.
const MinCacheBytes = 1 << 20

// Manager keeps slice metadata by image URL in a bounded cache. Entries
// are evicted oldest first once the cache is full.
type Manager struct {
	cache *freecache.Cache
}

// NewManager creates a manager holding about numBytes of metadata. Zero
// selects DefaultCacheBytes; other values are raised to MinCacheBytes.
func NewManager(numBytes int) *Manager {
	if numBytes <= 0 {
		numBytes = DefaultCacheBytes
	} else if numBytes < MinCacheBytes {
		numBytes = MinCacheBytes
	}
	logging.Debugf("Created freecache of ~ %d MB for slice metadata.", numBytes>>20)
	return &Manager{cache: freecache.NewCache(numBytes)}
}

// Add stores md under imageID, replacing any previous entry.
func (m *Manager) Add(imageID string, md volume.SliceMetaData) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return m.cache.Set([]byte(imageID), b, 0)
}

// Get returns the metadata stored under imageID.
func (m *Manager) Get(imageID string) (volume.SliceMetaData, bool) {
	b, err := m.cache.Get([]byte(imageID))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			logging.Errorf("unable to read metadata for %q: %v", imageID, err)
		}
		return volume.SliceMetaData{}, false
	}
	var md volume.SliceMetaData
	if err := json.Unmarshal(b, &md); err != nil {
		logging.Errorf("corrupt metadata for %q: %v", imageID, err)
		return volume.SliceMetaData{}, false
	}
	return md, true
}

// Remove drops the entry for imageID.
func (m *Manager) Remove(imageID string) {
	m.cache.Del([]byte(imageID))
}

// Purge drops every entry.
func (m *Manager) Purge() {
	m.cache.Clear()
}

// Len returns the number of stored entries.
func (m *Manager) Len() int64 {
	return m.cache.EntryCount()
}

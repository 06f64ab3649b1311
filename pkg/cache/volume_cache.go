// Package cache keeps reconstructed volumes in memory, one entry per stack.
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"mprslicer/pkg/volume"
)

const numShards = 16

// VolumeCache maps stack IDs to volumes. An entry only ever moves from
// header-only to full: storing a header-only volume over a full one is a
// no-op. It is safe for concurrent use.
type VolumeCache struct {
	shards [numShards]shard
}

type shard struct {
	mu      sync.RWMutex
	volumes map[string]*volume.Volume
}

// New creates an empty cache.
func New() *VolumeCache {
	c := &VolumeCache{}
	for i := range c.shards {
		c.shards[i].volumes = make(map[string]*volume.Volume)
	}
	return c
}

func (c *VolumeCache) shard(stackID string) *shard {
	return &c.shards[xxhash.Sum64String(stackID)%numShards]
}

// Get returns the volume cached for stackID.
func (c *VolumeCache) Get(stackID string) (*volume.Volume, bool) {
	s := c.shard(stackID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[stackID]
	return v, ok
}

// Put stores v under its stack ID unless that would replace a volume with
// image data by one without. It reports whether v was stored and returns
// the entry now cached.
func (c *VolumeCache) Put(v *volume.Volume) (*volume.Volume, bool) {
	s := c.shard(v.StackID())
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.volumes[v.StackID()]; ok && old.HasImageData() && !v.HasImageData() {
		return old, false
	}
	s.volumes[v.StackID()] = v
	return v, true
}

// Purge drops every entry.
func (c *VolumeCache) Purge() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.volumes = make(map[string]*volume.Volume)
		s.mu.Unlock()
	}
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries    int
	Full       int
	HeaderOnly int
	Voxels     int
}

// Stats counts the cached entries.
func (c *VolumeCache) Stats() Stats {
	var st Stats
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, v := range s.volumes {
			st.Entries++
			if v.HasImageData() {
				st.Full++
				st.Voxels += v.Len()
			} else {
				st.HeaderOnly++
			}
		}
		s.mu.RUnlock()
	}
	return st
}

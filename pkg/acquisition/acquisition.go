// Package acquisition turns stack identities into cached volumes. It keeps at
// most one acquisition in flight per stack and never fetches a stack whose
// cached volume already satisfies a request.
package acquisition

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"mprslicer/internal/models"
	"mprslicer/pkg/cache"
	"mprslicer/pkg/imageid"
	"mprslicer/pkg/logging"
	"mprslicer/pkg/volume"
)

// ErrClosed is returned by tasks requested after Close.
var ErrClosed = errors.New("acquisition closed")

// Fetcher retrieves the bytes a stack is built from.
type Fetcher interface {
	// Stack returns the raw stack manifest (nil when there is none) and the
	// addresses of the constituent images in slice order.
	Stack(ctx context.Context, filePath string) (manifest []byte, images []string, err error)

	// Fetch returns the bytes at address. With headerOnly set, a prefix
	// large enough to hold the image header is sufficient.
	Fetch(ctx context.Context, address string, headerOnly bool) ([]byte, error)
}

// Option configures an Acquisition.
type Option func(*Acquisition)

// WithCores bounds how many constituent images are fetched and decoded at
// once. Values below 1 are ignored.
func WithCores(n int) Option {
	return func(a *Acquisition) {
		if n > 0 {
			a.cores = n
		}
	}
}

// Stats counts acquisition outcomes since construction.
type Stats struct {
	Started   int64
	CacheHits int64
	Joined    int64
	Failed    int64
	Cache     cache.Stats
}

// Acquisition owns the in-flight task map and the volume cache.
type Acquisition struct {
	fetcher Fetcher
	cache   *cache.VolumeCache
	cores   int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	started, hits, joined, failed atomic.Int64
}

// New creates an Acquisition reading stacks through fetcher.
func New(fetcher Fetcher, opts ...Option) *Acquisition {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Acquisition{
		fetcher: fetcher,
		cache:   cache.New(),
		cores:   runtime.NumCPU(),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cache returns the volume cache the acquisition fills.
func (a *Acquisition) Cache() *cache.VolumeCache { return a.cache }

// Acquire returns a task producing the full volume of id's stack.
func (a *Acquisition) Acquire(id imageid.ImageID) *Task {
	return a.start(id, true, false)
}

// AcquireHeaderOnly returns a task producing a volume with metadata but no
// image data. With useRangeRead set, only header-sized prefixes of the
// constituent images are requested. An in-flight or cached full volume
// satisfies the request.
func (a *Acquisition) AcquireHeaderOnly(id imageid.ImageID, useRangeRead bool) *Task {
	return a.start(id, false, useRangeRead)
}

// start checks for an in-flight task, then the cache, then creates a task,
// all under one lock so two callers cannot both miss and both start.
func (a *Acquisition) start(id imageid.ImageID, full, useRangeRead bool) *Task {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return resolvedTask(id.StackID, nil, &models.AcquisitionError{StackID: id.StackID, Op: "start", Err: ErrClosed})
	}

	if t, ok := a.tasks[id.StackID]; ok && (t.full || !full) {
		a.joined.Add(1)
		return t
	}

	if v, ok := a.cache.Get(id.StackID); ok && (v.HasImageData() || !full) {
		a.hits.Add(1)
		return resolvedTask(id.StackID, v, nil)
	}

	// A full task replaces a header-only one in the map; the header-only
	// task still finishes for the callers already waiting on it.
	t := newTask(id.StackID, full)
	a.tasks[id.StackID] = t
	a.started.Add(1)
	go a.run(t, id, useRangeRead)
	return t
}

func (a *Acquisition) run(t *Task, id imageid.ImageID, useRangeRead bool) {
	tlog := logging.NewTimeLog()
	logging.Debugf("acquiring %s (full=%t, rangeRead=%t)", id.StackID, t.full, useRangeRead)

	var (
		v   *volume.Volume
		n   int
		err error
	)
	if t.full {
		v, n, err = a.buildFull(a.ctx, id)
	} else {
		v, n, err = a.buildHeader(a.ctx, id, useRangeRead)
	}

	// The volume is cached before the task leaves the map so a new request
	// always finds one or the other.
	a.mu.Lock()
	if err == nil && !a.closed {
		v, _ = a.cache.Put(v)
	}
	if a.tasks[t.stackID] == t {
		delete(a.tasks, t.stackID)
	}
	a.mu.Unlock()

	if err != nil {
		a.failed.Add(1)
		tlog.Errorf("acquisition of %s failed: %v", id.StackID, err)
	} else {
		md := v.MetaData()
		tlog.Infof("acquired %s: %dx%dx%d, %s fetched, image data %t",
			id.StackID, md.Columns, md.Rows, md.Slices, humanize.Bytes(uint64(n)), v.HasImageData())
	}
	t.resolve(v, err)
}

// Stats returns the outcome counters and a summary of the cache.
func (a *Acquisition) Stats() Stats {
	return Stats{
		Started:   a.started.Load(),
		CacheHits: a.hits.Load(),
		Joined:    a.joined.Load(),
		Failed:    a.failed.Load(),
		Cache:     a.cache.Stats(),
	}
}

// Close cancels in-flight fetches, fails later requests and empties the
// cache. Tasks already in flight finish with the fetch error.
func (a *Acquisition) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.cache.Purge()
	return nil
}

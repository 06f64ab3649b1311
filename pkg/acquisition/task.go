package acquisition

import (
	"context"

	"mprslicer/pkg/volume"
)

// Task is one acquisition of a stack. Every caller that joins an in-flight
// acquisition receives the same *Task.
type Task struct {
	stackID string
	full    bool
	done    chan struct{}

	vol *volume.Volume
	err error
}

func newTask(stackID string, full bool) *Task {
	return &Task{stackID: stackID, full: full, done: make(chan struct{})}
}

func resolvedTask(stackID string, v *volume.Volume, err error) *Task {
	t := newTask(stackID, v != nil && v.HasImageData())
	t.resolve(v, err)
	return t
}

func (t *Task) resolve(v *volume.Volume, err error) {
	t.vol, t.err = v, err
	close(t.done)
}

// StackID returns the key of the stack being acquired.
func (t *Task) StackID() string { return t.stackID }

// Full reports whether the task produces a volume with image data.
func (t *Task) Full() bool { return t.full }

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. Giving up on the
// wait does not stop the acquisition, which still populates the cache.
func (t *Task) Wait(ctx context.Context) (*volume.Volume, error) {
	select {
	case <-t.done:
		return t.vol, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

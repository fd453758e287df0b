package orchestrate

import (
	"context"
	"sync"
)

// Tracker owns the background task running for each call so terminal
// events can stop one call and shutdown can stop them all. One slot per
// key: registering over a live entry releases the old slot without
// canceling it.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*trackedTask
	wg    sync.WaitGroup
}

type trackedTask struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*trackedTask)}
}

// Register claims the task slot for a key and returns the closure that
// releases it. The closure is safe to call more than once.
func (t *Tracker) Register(key string, cancel context.CancelFunc) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedTask{cancel: cancel}

	t.mu.Lock()
	if t.tasks == nil {
		t.tasks = make(map[string]*trackedTask)
	}
	old := t.tasks[key]
	t.tasks[key] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(key, old)
	}

	return func() { t.unregister(key, entry) }
}

func (t *Tracker) unregister(key string, entry *trackedTask) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.tasks != nil && t.tasks[key] == entry {
			delete(t.tasks, key)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Cancel stops the task registered under key, if any. The task stays
// tracked until it unregisters itself on the way out.
func (t *Tracker) Cancel(key string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	entry := t.tasks[key]
	t.mu.Unlock()
	if entry == nil || entry.cancel == nil {
		return false
	}
	entry.cancel()
	return true
}

// Count reports the number of live task slots.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// CancelAll stops every tracked task.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []context.CancelFunc
	t.mu.Lock()
	for _, entry := range t.tasks {
		if entry == nil || entry.cancel == nil {
			continue
		}
		cancels = append(cancels, entry.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered task has released its slot or ctx
// ends, reporting whether the tracker drained in time.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Registry owns every task record held in memory. Callers only ever see
// copies; the live records are touched through Mutate under the write lock.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	seq   uint64
	now   func() time.Time
	newID func() string
}

func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		now:   time.Now,
		newID: func() string {
			return fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
		},
	}
}

// Create inserts a new pending task for url and returns a copy of it.
func (r *Registry) Create(url string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.tasks[id]; taken; _, taken = r.tasks[id] {
		id = r.newID()
	}

	r.seq++
	t := &Task{
		ID:        id,
		URL:       url,
		Status:    StatusPending,
		Message:   MessageCreated,
		CreatedAt: r.now(),
		seq:       r.seq,
	}
	r.tasks[id] = t
	return *t
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

// Mutate applies fn to the live record atomically. If fn fails the record is
// restored, so readers never observe a partial update.
func (r *Registry) Mutate(id string, fn func(t *Task) error) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	backup := *t
	if err := fn(t); err != nil {
		*t = backup
		return backup, err
	}
	return *t, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// RemoveWhere deletes every record matching pred and returns the removed snapshots.
func (r *Registry) RemoveWhere(pred func(t Task) bool) []Task {
	return r.compact(func(snapshot []Task) []string {
		var ids []string
		for _, t := range snapshot {
			if pred(t) {
				ids = append(ids, t.ID)
			}
		}
		return ids
	})
}

// List returns every task, newest first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	return out
}

// Counts returns the number of records per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// compact hands a consistent snapshot to choose and deletes the ids it
// returns, all under one write lock.
func (r *Registry) compact(choose func(snapshot []Task) []string) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		snapshot = append(snapshot, *t)
	}

	var removed []Task
	for _, id := range choose(snapshot) {
		if t, ok := r.tasks[id]; ok {
			removed = append(removed, *t)
			delete(r.tasks, id)
		}
	}
	return removed
}

// newer orders by created_at, then by insertion sequence.
func newer(a, b Task) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.seq > b.seq
}

// Package jobregistry holds conversion job state.
//
// The in-memory Registry is the process-wide shared store every job runner
// writes into and every query reads from. The on-disk Store archives
// terminal job snapshots so they survive restarts.
package jobregistry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates the job id is not registered.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyExists indicates Create was called twice for one id.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrJobFinished indicates a mutation was attempted after the job reached
	// a terminal state. The mutation is not applied.
	ErrJobFinished = errors.New("job already finished")
)

const shardCount = 32

// Registry is a concurrency-safe keyed store of jobs.
//
// Mutations for one id are serialized; mutations for different ids never
// share a lock. Lookups take a per-shard read lock only long enough to find
// the entry.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

type entry struct {
	mu  sync.Mutex
	job Job
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].jobs = make(map[string]*entry)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Registry) lookup(id string) (*entry, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	return e, ok
}

// Create registers job under job.ID.
func (r *Registry) Create(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s := r.shardFor(job.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, job.ID)
	}
	s.jobs[job.ID] = &entry{job: job.Clone()}
	return nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (Job, error) {
	e, ok := r.lookup(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Mutate applies fn to the job atomically with respect to every other
// mutation and read of the same id. Terminal jobs are immutable: fn is not
// called and ErrJobFinished is returned.
func (r *Registry) Mutate(id string, fn func(*Job) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	return fn(&e.job)
}

// List returns snapshots of every job, oldest first.
func (r *Registry) List() []Job {
	var entries []*entry
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.jobs {
			entries = append(entries, e)
		}
		s.mu.RUnlock()
	}

	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.job.Clone())
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

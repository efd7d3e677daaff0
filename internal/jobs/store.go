// Package jobs tracks transient async generation jobs. Jobs live in memory
// only: a restart forgets them and pollers must treat "missing" as either
// expired or never created.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fluxdigest/internal/domain"
)

// TTL after which a job is swept. The sweep runs before each create.
const TTL = 30 * time.Minute

type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Job is mutated in place by the background task and read by pollers.
type Job struct {
	mu        sync.Mutex
	id        string
	status    Status
	progress  int
	digest    *domain.Digest
	err       string
	createdAt time.Time
}

func (j *Job) ID() string {
	return j.id
}

// View is an immutable snapshot for pollers.
type View struct {
	ID        string
	Status    Status
	Progress  int
	Digest    *domain.Digest
	Error     string
	CreatedAt time.Time
}

func (j *Job) Snapshot() View {
	j.mu.Lock()
	defer j.mu.Unlock()

	return View{
		ID:        j.id,
		Status:    j.status,
		Progress:  j.progress,
		Digest:    j.digest,
		Error:     j.err,
		CreatedAt: j.createdAt,
	}
}

func (j *Job) SetGenerating(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusGenerating
	j.progress = progress
}

func (j *Job) Complete(digest *domain.Digest) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusCompleted
	j.progress = 100
	j.digest = digest
	j.err = ""
}

func (j *Job) Fail(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusError
	j.err = message
}

// Store is the injected job registry.
type Store interface {
	Create() *Job
	Get(id string) *Job
	Sweep() int
}

// MemoryStore is the process-local Store. The clock is injectable so tests
// never wait on wall time.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = TTL
	}

	return &MemoryStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
		now:  time.Now,
	}
}

// WithClock replaces the store's clock. Test use only.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create() *Job {
	s.Sweep()

	job := &Job{
		id:        uuid.NewString(),
		status:    StatusPending,
		createdAt: s.now(),
	}

	s.mu.Lock()
	s.jobs[job.id] = job
	s.mu.Unlock()

	return job
}

// Get returns nil for unknown ids. Expired and never-created are
// indistinguishable on purpose.
func (s *MemoryStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.jobs[id]
}

func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, job := range s.jobs {
		if job.Snapshot().CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}

	return removed
}

package jobs

import (
	"testing"
	"time"

	"fluxdigest/internal/domain"
)

func TestCreateStartsPending(t *testing.T) {
	store := NewMemoryStore(TTL)

	job := store.Create()
	if job.ID() == "" {
		t.Fatalf("expected non-empty job id")
	}

	view := job.Snapshot()
	if view.Status != StatusPending || view.Progress != 0 {
		t.Fatalf("unexpected initial state: %+v", view)
	}

	if got := store.Get(job.ID()); got != job {
		t.Fatalf("expected stored job to be retrievable")
	}
}

func TestGetUnknownIDReturnsNil(t *testing.T) {
	store := NewMemoryStore(TTL)

	if got := store.Get("no-such-job"); got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}
}

func TestSweepRemovesExpiredJobs(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(TTL).WithClock(func() time.Time { return now })

	old := store.Create()

	now = now.Add(TTL + time.Minute)
	fresh := store.Create()

	if store.Get(old.ID()) != nil {
		t.Fatalf("expected expired job to be swept on create")
	}

	if store.Get(fresh.ID()) == nil {
		t.Fatalf("expected fresh job to survive sweep")
	}
}

func TestSweepKeepsJobsInsideTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(TTL).WithClock(func() time.Time { return now })

	job := store.Create()

	now = now.Add(TTL - time.Minute)
	if removed := store.Sweep(); removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}

	if store.Get(job.ID()) == nil {
		t.Fatalf("expected job inside TTL to survive")
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	store := NewMemoryStore(TTL)
	job := store.Create()

	job.SetGenerating(30)
	view := job.Snapshot()
	if view.Status != StatusGenerating || view.Progress != 30 {
		t.Fatalf("unexpected generating state: %+v", view)
	}

	digest := &domain.Digest{ID: "digest-7", Title: "done"}
	job.Complete(digest)
	view = job.Snapshot()
	if view.Status != StatusCompleted || view.Progress != 100 || view.Digest != digest {
		t.Fatalf("unexpected completed state: %+v", view)
	}
}

func TestJobFailRecordsError(t *testing.T) {
	store := NewMemoryStore(TTL)
	job := store.Create()

	job.Fail("provider unreachable")

	view := job.Snapshot()
	if view.Status != StatusError || view.Error != "provider unreachable" {
		t.Fatalf("unexpected failed state: %+v", view)
	}
}

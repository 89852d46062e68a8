package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/testharness"
	"github.com/ashfox/toolgate/internal/types"
)

func newTestStore(t *testing.T) (*Store, *clockutil.Fake) {
	t.Helper()
	clock := clockutil.NewFake(time.Unix(0, 0))
	repo := testharness.NewProjectRepository(clock)
	store := New(repo, clock, WithSeeds(nil), WithSleeper(func(time.Duration) {}))
	return store, clock
}

func TestSubmitClaimComplete_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	job, err := store.SubmitJob(ctx, "ws1", SubmitJobInput{
		ProjectID: "project-a",
		Kind:      types.JobKindGLTFConvert,
		Payload:   map[string]any{"codecId": "gltf", "optimize": true},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Fatalf("want queued, got %s", job.Status)
	}

	claimed, err := store.ClaimNextJob(ctx, "ws1", "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim %v, got %v", job.ID, claimed)
	}
	if claimed.Status != JobStatusRunning || claimed.WorkerID != "worker-1" {
		t.Fatalf("claimed job not running: %+v", claimed)
	}

	result := map[string]any{"kind": "gltf.convert", "status": "converted"}
	completed, err := store.CompleteJob(ctx, "ws1", job.ID, result)
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if completed.Status != JobStatusCompleted {
		t.Fatalf("want completed, got %s", completed.Status)
	}
	if completed.Result["status"] != "converted" {
		t.Fatalf("result mismatch: %+v", completed.Result)
	}

	events, err := store.GetProjectEventsSince(ctx, "ws1", "project-a", -1)
	if err != nil {
		t.Fatalf("GetProjectEventsSince: %v", err)
	}
	// implicit creation is not emitted separately from the submit's
	// activeJob-set event, so we expect: submit(active set), claim(active
	// running), complete(active cleared) = 3 events, strictly increasing seq.
	if len(events) != 3 {
		t.Fatalf("want 3 events, got %d: %+v", len(events), events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("seq not strictly increasing: %+v", events)
		}
	}
}

func TestFailJob_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	job, err := store.SubmitJob(ctx, "ws1", SubmitJobInput{
		ProjectID:   "project-a",
		Kind:        types.JobKindTexturePreflight,
		Payload:     map[string]any{"textureIds": []any{"missing-texture"}},
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	for attempt := 1; attempt <= 1; attempt++ {
		claimed, err := store.ClaimNextJob(ctx, "ws1", "worker-1")
		if err != nil || claimed == nil {
			t.Fatalf("ClaimNextJob attempt %d: claimed=%v err=%v", attempt, claimed, err)
		}
		failed, err := store.FailJob(ctx, "ws1", job.ID, "simulated failure")
		if err != nil {
			t.Fatalf("FailJob: %v", err)
		}
		if failed.Status != JobStatusQueued || failed.DeadLetter {
			t.Fatalf("expected re-queue after attempt %d, got %+v", attempt, failed)
		}
		if failed.AttemptCount != attempt {
			t.Fatalf("want attemptCount=%d, got %d", attempt, failed.AttemptCount)
		}
	}

	clock.Advance(31 * time.Second) // clear any backoff nextRetryAt
	claimed, err := store.ClaimNextJob(ctx, "ws1", "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("final ClaimNextJob: claimed=%v err=%v", claimed, err)
	}
	finalFail, err := store.FailJob(ctx, "ws1", job.ID, "simulated failure")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if finalFail.Status != JobStatusFailed || !finalFail.DeadLetter {
		t.Fatalf("expected dead letter on attempt exceeding max, got %+v", finalFail)
	}
	if finalFail.AttemptCount != 2 {
		t.Fatalf("want attemptCount=2, got %d", finalFail.AttemptCount)
	}
}

func TestProjectLockExclusion_ReleaseThenAcquire(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	owner1, err := store.acquireDistributedLock(ctx, "ws1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if owner1 == "" {
		t.Fatalf("expected non-empty owner token")
	}
	store.releaseDistributedLock(ctx, "ws1")

	owner2, err := store.acquireDistributedLock(ctx, "ws1")
	if err != nil {
		t.Fatalf("second acquire after release: %v", err)
	}
	if owner2 == owner1 {
		t.Fatalf("expected a fresh owner token after release")
	}
}

func TestListProjects_SubstringMatchCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if _, err := store.SubmitJob(ctx, "ws1", SubmitJobInput{
		ProjectID: "alpha-project",
		Kind:      types.JobKindGLTFConvert,
	}); err != nil {
		t.Fatalf("seed alpha: %v", err)
	}
	if _, err := store.SubmitJob(ctx, "ws1", SubmitJobInput{
		ProjectID: "beta-project",
		Kind:      types.JobKindGLTFConvert,
	}); err != nil {
		t.Fatalf("seed beta: %v", err)
	}

	projects, err := store.ListProjects(ctx, "ws1", "ALPHA")
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 1 || projects[0].ProjectID != "alpha-project" {
		t.Fatalf("want only alpha-project, got %+v", projects)
	}
}

func TestNoCASRepository_UnconditionalSaveFallback(t *testing.T) {
	ctx := context.Background()
	clock := clockutil.NewFake(time.Unix(0, 0))
	repo := testharness.NewNoCASProjectRepository(clock)
	store := New(repo, clock, WithSeeds(nil), WithSleeper(func(time.Duration) {}))

	job, err := store.SubmitJob(ctx, "ws1", SubmitJobInput{
		ProjectID: "project-a",
		Kind:      types.JobKindGLTFConvert,
	})
	if err != nil {
		t.Fatalf("SubmitJob against a non-CAS repository should still succeed: %v", err)
	}
	if job.Status != JobStatusQueued {
		t.Fatalf("want queued, got %s", job.Status)
	}
}

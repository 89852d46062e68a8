package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/pipeline"
	"github.com/ashfox/toolgate/internal/testharness"
	"github.com/ashfox/toolgate/internal/types"
)

const testWorkspaceID = "ws-1"

func newTestLoop(t *testing.T) (*Loop, *pipeline.Store, *testharness.FakeBackend, *clockutil.Fake) {
	t.Helper()
	clock := clockutil.NewFake(time.Unix(0, 0))
	repo := testharness.NewProjectRepository(clock)
	store := pipeline.New(repo, clock, pipeline.WithSeeds(nil), pipeline.WithSleeper(func(time.Duration) {}))
	fakeBE := testharness.NewFakeBackend("engine")
	registry := backend.NewRegistry(fakeBE)

	resolver := func(context.Context) ([]string, error) { return []string{testWorkspaceID}, nil }
	loop := New(store, registry, "engine", "worker-1", resolver, clock)
	return loop, store, fakeBE, clock
}

// TestTick_GLTFConvert_Success (S5): a queued gltf.convert job is claimed,
// converted, and completed with the composed output.
func TestTick_GLTFConvert_Success(t *testing.T) {
	loop, store, _, _ := newTestLoop(t)
	ctx := context.Background()

	job, err := store.SubmitJob(ctx, testWorkspaceID, pipeline.SubmitJobInput{
		ProjectID: "proj-1",
		Kind:      types.JobKindGLTFConvert,
		Payload:   map[string]any{},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	completed, err := store.GetJob(ctx, testWorkspaceID, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if completed == nil || completed.Status != pipeline.JobStatusCompleted {
		t.Fatalf("expected job completed, got %+v", completed)
	}
	if completed.Result == nil || completed.Result["status"] != "converted" {
		t.Fatalf("expected converted result, got %+v", completed.Result)
	}
	output, ok := completed.Result["output"].(map[string]any)
	if !ok || output["selectedFormat"] != "gltf" {
		t.Fatalf("expected gltf output, got %+v", completed.Result["output"])
	}
}

// TestTick_TexturePreflight_Failed (S6): preflight reports a business-level
// failure (missing texture), which still completes the job rather than
// failing it.
func TestTick_TexturePreflight_Failed(t *testing.T) {
	loop, store, _, _ := newTestLoop(t)
	ctx := context.Background()

	job, err := store.SubmitJob(ctx, testWorkspaceID, pipeline.SubmitJobInput{
		ProjectID: "proj-2",
		Kind:      types.JobKindTexturePreflight,
		Payload:   map[string]any{"textureIds": []any{"missing-tex"}},
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	completed, err := store.GetJob(ctx, testWorkspaceID, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if completed == nil || completed.Status != pipeline.JobStatusCompleted {
		t.Fatalf("expected job completed (business failure, not system fault), got %+v", completed)
	}
	if completed.Result["status"] != "failed" {
		t.Fatalf("expected preflight status failed, got %+v", completed.Result["status"])
	}
	summary, _ := completed.Result["summary"].(map[string]any)
	if summary["unresolvedCount"] != 1 {
		t.Fatalf("expected unresolvedCount 1, got %+v", summary)
	}
}

// TestTick_UnknownCodec_FailsJob (S7): export returns unsupported_format
// for an unknown codec, which must fail (not complete) the job with a
// message naming the underlying cause.
func TestTick_UnknownCodec_FailsJob(t *testing.T) {
	loop, store, _, _ := newTestLoop(t)
	ctx := context.Background()

	job, err := store.SubmitJob(ctx, testWorkspaceID, pipeline.SubmitJobInput{
		ProjectID:   "proj-3",
		Kind:        types.JobKindGLTFConvert,
		Payload:     map[string]any{"codecId": "unknown-codec"},
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	failed, err := store.GetJob(ctx, testWorkspaceID, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed == nil || failed.Status != pipeline.JobStatusFailed || !failed.DeadLetter {
		t.Fatalf("expected job dead-lettered after single attempt, got %+v", failed)
	}
	if !containsSubstring(failed.Error, "export failed (unsupported_format)") {
		t.Fatalf("expected error mentioning export failed (unsupported_format), got %q", failed.Error)
	}
}

// TestTick_MissingCapabilities_FailsJob verifies the required-capabilities
// check: a backend missing a required tool fails the job immediately
// instead of invoking HandleTool for it.
func TestTick_MissingCapabilities_FailsJob(t *testing.T) {
	loop, store, fakeBE, _ := newTestLoop(t)
	ctx := context.Background()
	fakeBE.SetCapability("export", false)

	job, err := store.SubmitJob(ctx, testWorkspaceID, pipeline.SubmitJobInput{
		ProjectID:   "proj-4",
		Kind:        types.JobKindGLTFConvert,
		Payload:     map[string]any{},
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := loop.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	failed, err := store.GetJob(ctx, testWorkspaceID, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed == nil || failed.Status != pipeline.JobStatusFailed {
		t.Fatalf("expected job failed due to missing capability, got %+v", failed)
	}
	if !containsSubstring(failed.Error, "export") {
		t.Fatalf("expected error naming missing capability, got %q", failed.Error)
	}
	if len(fakeBE.ExportCalls) != 0 {
		t.Fatalf("expected export never called when capability missing, got %d calls", len(fakeBE.ExportCalls))
	}
}

// TestTick_NoJobs_NoOp exercises an empty queue.
func TestTick_NoJobs_NoOp(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick on empty queue: %v", err)
	}
}

// TestHeartbeat_DoesNotPanicOnUnregisteredBackend covers the heartbeat
// sub-loop's guard when no backend of the configured kind is registered.
func TestHeartbeat_DoesNotPanicOnUnregisteredBackend(t *testing.T) {
	clock := clockutil.NewFake(time.Unix(0, 0))
	repo := testharness.NewProjectRepository(clock)
	store := pipeline.New(repo, clock, pipeline.WithSeeds(nil), pipeline.WithSleeper(func(time.Duration) {}))
	registry := backend.NewRegistry()
	resolver := func(context.Context) ([]string, error) { return nil, nil }
	loop := New(store, registry, "missing-backend", "worker-1", resolver, clock)
	loop.Heartbeat(context.Background())
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

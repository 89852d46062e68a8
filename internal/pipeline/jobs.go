package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ashfox/toolgate/internal/types"
)

// SubmitJobInput is the argument shape for SubmitJob.
type SubmitJobInput struct {
	ProjectID   string
	Kind        types.JobKind
	Payload     map[string]any
	MaxAttempts int
	LeaseMs     int64
}

const (
	defaultMaxAttempts = 3
	defaultLeaseMs     = 30_000
)

// jobsAllowingImplicitCreate are job kinds that may create their target
// project if it doesn't already exist (spec §4.2 SubmitJob).
var jobsAllowingImplicitCreate = map[types.JobKind]bool{
	types.JobKindGLTFConvert:      true,
	types.JobKindTexturePreflight: true,
}

// SubmitJob enqueues a new job, kind-checking its payload and creating
// the target project implicitly when the kind allows it.
func (s *Store) SubmitJob(ctx context.Context, workspaceID string, input SubmitJobInput) (*Job, error) {
	if err := types.ValidateJobPayload(input.Kind, input.Payload); err != nil {
		return nil, err
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	leaseMs := input.LeaseMs
	if leaseMs <= 0 {
		leaseMs = defaultLeaseMs
	}

	var created Job
	err := s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		if _, ok := st.Projects[input.ProjectID]; !ok && jobsAllowingImplicitCreate[input.Kind] {
			st.Projects[input.ProjectID] = ProjectSnapshot{
				ProjectID:  input.ProjectID,
				Name:       input.ProjectID,
				Revision:   1,
				Hierarchy:  []HierarchyNode{},
				Animations: []AnimationClip{},
			}
		}

		jobID := fmt.Sprintf("job-%d", st.NextJobID)
		st.NextJobID++

		created = Job{
			ID:              jobID,
			ProjectID:       input.ProjectID,
			Kind:            input.Kind,
			Status:          JobStatusQueued,
			MaxAttempts:     maxAttempts,
			LeaseMs:         leaseMs,
			CreatedAtUnixMs: nowMs(s.clock),
			Payload:         input.Payload,
		}
		st.Jobs[jobID] = created
		st.QueuedJobIDs = append(st.QueuedJobIDs, jobID)

		markActiveJob(st, input.ProjectID, &created)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ClaimNextJob pops the head of the queue whose nextRetryAt has elapsed,
// assigns workerID, and marks it running. Returns nil if none are ready.
func (s *Store) ClaimNextJob(ctx context.Context, workspaceID, workerID string) (*Job, error) {
	var claimed *Job
	err := s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		now := nowMs(s.clock)
		idx := -1
		for i, jobID := range st.QueuedJobIDs {
			job, ok := st.Jobs[jobID]
			if !ok {
				continue
			}
			if job.NextRetryAtUnixMs != nil && *job.NextRetryAtUnixMs > now {
				continue
			}
			idx = i
			break
		}
		if idx == -1 {
			return false, nil
		}

		jobID := st.QueuedJobIDs[idx]
		st.QueuedJobIDs = append(st.QueuedJobIDs[:idx], st.QueuedJobIDs[idx+1:]...)

		job := st.Jobs[jobID]
		job.Status = JobStatusRunning
		job.WorkerID = workerID
		job.StartedAtUnixMs = ptrInt64(now)
		leaseExpiry := now + job.LeaseMs
		job.LeaseExpiresAtUnixMs = ptrInt64(leaseExpiry)
		job.AttemptCount++
		st.Jobs[jobID] = job

		markActiveJob(st, job.ProjectID, &job)

		claimed = &job
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteJob marks a running job completed and stores its result.
func (s *Store) CompleteJob(ctx context.Context, workspaceID, jobID string, result map[string]any) (*Job, error) {
	var completed *Job
	err := s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		job, ok := st.Jobs[jobID]
		if !ok {
			return false, nil
		}
		if job.Status != JobStatusRunning {
			completed = &job
			return false, nil
		}
		job.Status = JobStatusCompleted
		job.CompletedAtUnixMs = ptrInt64(nowMs(s.clock))
		job.Result = result
		st.Jobs[jobID] = job

		clearActiveJob(st, job.ProjectID)

		completed = &job
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// FailJob re-queues a job with backoff if it has attempts remaining, or
// marks it dead-lettered otherwise.
func (s *Store) FailJob(ctx context.Context, workspaceID, jobID, errorMessage string) (*Job, error) {
	var failed *Job
	err := s.withState(ctx, workspaceID, func(st *pipelineState) (bool, error) {
		job, ok := st.Jobs[jobID]
		if !ok {
			return false, nil
		}
		job.Error = errorMessage

		if job.AttemptCount < job.MaxAttempts {
			job.Status = JobStatusQueued
			delay := backoffDuration(job.AttemptCount)
			retryAt := nowMs(s.clock) + delay.Milliseconds()
			job.NextRetryAtUnixMs = ptrInt64(retryAt)
			job.WorkerID = ""
			job.LeaseExpiresAtUnixMs = nil
			st.Jobs[jobID] = job
			st.QueuedJobIDs = append(st.QueuedJobIDs, jobID)
			markActiveJob(st, job.ProjectID, &job)
		} else {
			job.Status = JobStatusFailed
			job.DeadLetter = true
			job.CompletedAtUnixMs = ptrInt64(nowMs(s.clock))
			st.Jobs[jobID] = job
			clearActiveJob(st, job.ProjectID)
		}

		failed = &job
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

const (
	backoffInitial = 100 * time.Millisecond
	backoffCap     = 30 * time.Second
)

// backoffDuration computes min(initial*2^(attempt-1), cap) with jitter,
// per spec §4.2 "Retry backoff".
func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := backoffInitial
	for i := 1; i < attempt && base < backoffCap; i++ {
		base *= 2
	}
	if base > backoffCap {
		base = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 5 + 1))
	return base + jitter
}

func markActiveJob(st *pipelineState, projectID string, job *Job) {
	snap, ok := st.Projects[projectID]
	if !ok {
		return
	}
	snap.ActiveJob = &ActiveJobRef{ID: job.ID, Status: string(job.Status)}
	st.Projects[projectID] = snap
	appendProjectEvent(st, projectID, snap)
}

func clearActiveJob(st *pipelineState, projectID string) {
	snap, ok := st.Projects[projectID]
	if !ok {
		return
	}
	snap.ActiveJob = nil
	var next *Job
	for _, j := range st.Jobs {
		if j.ProjectID != projectID || (j.Status != JobStatusQueued && j.Status != JobStatusRunning) {
			continue
		}
		if next == nil || j.CreatedAtUnixMs < next.CreatedAtUnixMs || (j.CreatedAtUnixMs == next.CreatedAtUnixMs && j.ID < next.ID) {
			j := j
			next = &j
		}
	}
	if next != nil {
		snap.ActiveJob = &ActiveJobRef{ID: next.ID, Status: string(next.Status)}
	}
	st.Projects[projectID] = snap
	appendProjectEvent(st, projectID, snap)
}

func nowMs(clock interface{ Now() time.Time }) int64 {
	return clock.Now().UnixMilli()
}

func ptrInt64(v int64) *int64 { return &v }

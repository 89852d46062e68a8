// Package worker implements the Worker Job Loop (spec component C7): a
// cooperative, single-job-per-tick loop that fans out across workspaces,
// claims one job at a time, and executes it against a Backend.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashfox/toolgate/internal/backend"
	"github.com/ashfox/toolgate/internal/clockutil"
	"github.com/ashfox/toolgate/internal/pipeline"
	"github.com/ashfox/toolgate/internal/telemetry"
	"github.com/ashfox/toolgate/internal/types"
)

const (
	defaultPollInterval      = 1200 * time.Millisecond
	defaultHeartbeatInterval = 5 * time.Second
	defaultJobChannel        = "ashfox:jobs"
)

// jobRequiredTools names the backend tools each job kind must report
// available before the worker will attempt it (spec §4.3 "required
// capabilities check").
var jobRequiredTools = map[types.JobKind][]string{
	types.JobKindGLTFConvert:      {"ensure_project", "export", "get_project_state"},
	types.JobKindTexturePreflight: {"ensure_project", "preflight_texture"},
}

// Loop is the Worker Job Loop. Construct one per process with New.
type Loop struct {
	store    *pipeline.Store
	backends *backend.Registry

	backendKind       string
	workerID          string
	resolver          WorkspaceIDsResolver
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	// rdb, when non-nil, lets this worker wake early on another process's
	// job-completion broadcast instead of waiting out a full poll tick, and
	// broadcasts its own completions the same way. Nil disables pub/sub
	// entirely; the poll ticker alone still drives the loop.
	rdb         *redis.Client
	jobChannel  string

	deadLetterNotifier DeadLetterNotifier

	clock  clockutil.Clock
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Loop at construction time.
type Option func(*Loop)

// WithPollInterval overrides the tick interval (spec default 1200ms).
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithHeartbeatInterval overrides the heartbeat interval (spec default 5s).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.heartbeatInterval = d
		}
	}
}

// WithLogger installs a structured logger. Omit to use slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithPubSub enables cross-process wake-ups: this worker subscribes to
// channel (default "ashfox:jobs") and ticks early on any message, and
// publishes to it whenever it completes or dead-letters a job.
func WithPubSub(rdb *redis.Client, channel string) Option {
	return func(l *Loop) {
		l.rdb = rdb
		if channel != "" {
			l.jobChannel = channel
		}
	}
}

// DeadLetterNotifier is notified when a job exhausts its retry budget.
// internal/notify.DeadLetterNotifier implements this; nil disables it.
type DeadLetterNotifier interface {
	PostDeadLetter(ctx context.Context, workspaceID string, job *pipeline.Job) error
}

// WithDeadLetterNotifier installs a notifier called whenever FailJob
// reports a job as dead-lettered.
func WithDeadLetterNotifier(n DeadLetterNotifier) Option {
	return func(l *Loop) { l.deadLetterNotifier = n }
}

// New builds a Loop bound to one backend kind, polling workspaces returned
// by resolver.
func New(store *pipeline.Store, backends *backend.Registry, backendKind, workerID string, resolver WorkspaceIDsResolver, clock clockutil.Clock, opts ...Option) *Loop {
	l := &Loop{
		store:             store,
		backends:          backends,
		backendKind:       backendKind,
		workerID:          workerID,
		resolver:          resolver,
		pollInterval:      defaultPollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		jobChannel:        defaultJobChannel,
		clock:             clock,
		logger:            slog.Default(),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks, ticking every pollInterval and heartbeating every
// heartbeatInterval, until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker loop started", "workerId", l.workerID, "pollIntervalMs", l.pollInterval.Milliseconds())

	pollTicker := time.NewTicker(l.pollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(l.heartbeatInterval)
	defer heartbeatTicker.Stop()

	var wakeCh <-chan *redis.Message
	if l.rdb != nil {
		sub := l.rdb.Subscribe(ctx, l.jobChannel)
		defer sub.Close()
		wakeCh = sub.Channel()
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopped", "workerId", l.workerID, "reason", "context cancelled")
			return nil
		case <-l.stopCh:
			l.logger.Info("worker loop stopped", "workerId", l.workerID, "reason", "shutdown requested")
			return nil
		case <-wakeCh:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("worker tick", "error", err)
			}
		case <-heartbeatTicker.C:
			l.Heartbeat(ctx)
		case <-pollTicker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("worker tick", "error", err)
			}
		}
	}
}

// Stop requests cooperative shutdown: the loop finishes any in-flight job
// and does not start another tick.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Tick fans out across every resolved workspace, claiming and running at
// most one job per workspace.
func (l *Loop) Tick(ctx context.Context) error {
	workspaceIDs, err := l.resolver(ctx)
	if err != nil {
		return fmt.Errorf("resolving workspace ids: %w", err)
	}
	for _, workspaceID := range workspaceIDs {
		if err := l.tickWorkspace(ctx, workspaceID); err != nil {
			l.logger.Error("worker tick", "workspaceId", workspaceID, "error", err)
		}
	}
	return nil
}

func (l *Loop) tickWorkspace(ctx context.Context, workspaceID string) error {
	job, err := l.store.ClaimNextJob(ctx, workspaceID, l.workerID)
	if err != nil {
		return fmt.Errorf("claiming job in %s: %w", workspaceID, err)
	}
	if job == nil {
		return nil
	}
	telemetry.JobsClaimedTotal.WithLabelValues(string(job.Kind)).Inc()
	l.runJob(ctx, workspaceID, job)
	return nil
}

// runJob executes one claimed job to completion, failing it on any error.
func (l *Loop) runJob(ctx context.Context, workspaceID string, job *pipeline.Job) {
	be := l.backends.Resolve(l.backendKind)
	if be == nil {
		l.failJob(ctx, workspaceID, job.ID, fmt.Sprintf("backend %q is not registered", l.backendKind))
		return
	}

	required, known := jobRequiredTools[job.Kind]
	if !known {
		l.failJob(ctx, workspaceID, job.ID, fmt.Sprintf("Unsupported native job kind: %s", job.Kind))
		return
	}
	if missing := l.missingCapabilities(ctx, be, required); len(missing) > 0 {
		l.failJob(ctx, workspaceID, job.ID, fmt.Sprintf("backend is missing required capabilities: %s", strings.Join(missing, ", ")))
		return
	}

	invocation := backend.InvocationContext{TenantID: workspaceID, ActorID: "worker:" + l.workerID, ProjectID: job.ProjectID}

	var result map[string]any
	var runErr error
	switch job.Kind {
	case types.JobKindGLTFConvert:
		result, runErr = l.runGLTFConvert(ctx, be, invocation, job)
	case types.JobKindTexturePreflight:
		result, runErr = l.runTexturePreflight(ctx, be, invocation, job)
	default:
		runErr = fmt.Errorf("Unsupported native job kind: %s", job.Kind)
	}

	if runErr != nil {
		l.failJob(ctx, workspaceID, job.ID, runErr.Error())
		return
	}

	if _, err := l.store.CompleteJob(ctx, workspaceID, job.ID, result); err != nil {
		l.logger.Error("completing job", "jobId", job.ID, "error", err)
		return
	}
	l.publish(ctx, job.ID)
}

func (l *Loop) failJob(ctx context.Context, workspaceID, jobID, message string) {
	failed, err := l.store.FailJob(ctx, workspaceID, jobID, message)
	if err != nil {
		l.logger.Error("failing job", "jobId", jobID, "error", err)
		return
	}
	if failed != nil && failed.DeadLetter {
		telemetry.JobsDeadLetteredTotal.WithLabelValues(string(failed.Kind)).Inc()
		l.logger.Warn("job dead-lettered", "jobId", jobID, "kind", failed.Kind, "attempts", failed.AttemptCount, "error", message)
		l.publish(ctx, jobID)
		if l.deadLetterNotifier != nil {
			if notifyErr := l.deadLetterNotifier.PostDeadLetter(ctx, workspaceID, failed); notifyErr != nil {
				l.logger.Warn("posting dead-letter notification", "jobId", jobID, "error", notifyErr)
			}
		}
	}
}

// publish broadcasts a job-settled notification so sibling worker
// processes can wake early instead of waiting out their own poll tick.
// A nil rdb (pub/sub not configured) or a publish error is non-fatal.
func (l *Loop) publish(ctx context.Context, jobID string) {
	if l.rdb == nil {
		return
	}
	if err := l.rdb.Publish(ctx, l.jobChannel, jobID).Err(); err != nil {
		l.logger.Warn("publishing job notification", "jobId", jobID, "error", err)
	}
}

func (l *Loop) missingCapabilities(ctx context.Context, be backend.Backend, required []string) []string {
	resp := be.HandleTool(ctx, "list_capabilities", nil, backend.InvocationContext{})
	if !resp.OK {
		return required
	}
	data, _ := resp.Data.(map[string]any)
	caps, _ := data["capabilities"].(map[string]bool)
	var missing []string
	for _, tool := range required {
		if !caps[tool] {
			missing = append(missing, tool)
		}
	}
	return missing
}

// runGLTFConvert implements spec §4.3's gltf.convert job kind.
func (l *Loop) runGLTFConvert(ctx context.Context, be backend.Backend, invocation backend.InvocationContext, job *pipeline.Job) (map[string]any, error) {
	if resp := be.HandleTool(ctx, "ensure_project", map[string]any{"projectId": job.ProjectID}, invocation); !resp.OK {
		return nil, fmt.Errorf("ensure_project failed (%s): %s", resp.Error.Code, resp.Error.Message)
	}

	exportPayload := map[string]any{"format": "gltf"}
	codecID, _ := job.Payload["codecId"].(string)
	if codecID != "" {
		exportPayload = map[string]any{"format": "native_codec", "codecId": codecID}
	}
	exportResp := be.HandleTool(ctx, "export", exportPayload, invocation)
	if !exportResp.OK {
		return nil, fmt.Errorf("export failed (%s): %s", exportResp.Error.Code, exportResp.Error.Message)
	}
	exportData, _ := exportResp.Data.(map[string]any)

	stateResp := be.HandleTool(ctx, "get_project_state", nil, invocation)
	if !stateResp.OK {
		return nil, fmt.Errorf("get_project_state failed (%s): %s", stateResp.Error.Code, stateResp.Error.Message)
	}
	stateData, _ := stateResp.Data.(map[string]any)

	return map[string]any{
		"kind":   string(types.JobKindGLTFConvert),
		"status": "converted",
		"output": map[string]any{
			"exportPath":       exportData["exportPath"],
			"selectedTarget":   exportData["selectedTarget"],
			"requestedCodecId": exportData["requestedCodecId"],
			"selectedFormat":   exportData["selectedFormat"],
		},
		"hasGeometry":    stateData["hasGeometry"],
		"hierarchy":      stateData["hierarchy"],
		"animations":     stateData["animations"],
		"textures":       stateData["textures"],
		"textureSources": stateData["textureSources"],
	}, nil
}

// runTexturePreflight implements spec §4.3's texture.preflight job kind.
func (l *Loop) runTexturePreflight(ctx context.Context, be backend.Backend, invocation backend.InvocationContext, job *pipeline.Job) (map[string]any, error) {
	if resp := be.HandleTool(ctx, "ensure_project", map[string]any{"projectId": job.ProjectID}, invocation); !resp.OK {
		return nil, fmt.Errorf("ensure_project failed (%s): %s", resp.Error.Code, resp.Error.Message)
	}

	resp := be.HandleTool(ctx, "preflight_texture", job.Payload, invocation)
	if !resp.OK {
		return nil, fmt.Errorf("preflight_texture failed (%s): %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := resp.Data.(map[string]any)
	return map[string]any{
		"kind":        string(types.JobKindTexturePreflight),
		"status":      data["status"],
		"summary":     data["summary"],
		"diagnostics": data["diagnostics"],
	}, nil
}

// Heartbeat asks the backend for its health and logs the result. Heartbeat
// failures never halt the job loop.
func (l *Loop) Heartbeat(ctx context.Context) {
	be := l.backends.Resolve(l.backendKind)
	if be == nil {
		l.logger.Warn("heartbeat skipped: backend not registered", "backend", l.backendKind)
		return
	}
	health := be.GetHealth(ctx)
	telemetry.BackendHealthChecksTotal.WithLabelValues(health.Kind, string(health.Availability)).Inc()
	l.logger.Info("backend heartbeat", "kind", health.Kind, "availability", health.Availability, "version", health.Version)
}

package dispatcher

// FailureRecorder observes guard failures, keyed by (tool, code, reason),
// per spec §4.5 observability. A nil recorder is treated as a no-op.
type FailureRecorder interface {
	RecordGuardFailure(tool, code, reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordGuardFailure(string, string, string) {}

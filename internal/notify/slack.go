// Package notify sends operational notifications about pipeline job
// outcomes, distinct from the tool-response envelope clients see directly.
// Grounded on the teacher's pkg/slack/notifier.go, narrowed to the one
// event this gateway's worker actually needs to surface: a job exhausting
// its retry budget and landing in the dead letter state.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/ashfox/toolgate/internal/pipeline"
)

// DeadLetterNotifier posts a message when a pipeline job is dead-lettered.
type DeadLetterNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewDeadLetterNotifier builds a notifier. If botToken is empty, the
// notifier is a no-op (logging only), mirroring the teacher's
// IsEnabled-gated Notifier.
func NewDeadLetterNotifier(botToken, channel string, logger *slog.Logger) *DeadLetterNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &DeadLetterNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether this notifier has a valid Slack client.
func (n *DeadLetterNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// PostDeadLetter announces that job has exhausted its retry budget.
func (n *DeadLetterNotifier) PostDeadLetter(ctx context.Context, workspaceID string, job *pipeline.Job) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping dead-letter post",
			"workspace_id", workspaceID, "job_id", job.ID, "kind", job.Kind)
		return nil
	}

	text := fmt.Sprintf(":skull: job `%s` (%s) in workspace `%s` dead-lettered after %d attempts: %s",
		job.ID, job.Kind, workspaceID, job.AttemptCount, job.Error)

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting dead-letter notification to slack: %w", err)
	}
	return nil
}

package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "VaultChain/internal/errors"
	"VaultChain/pkg/logger"
)

// Channel identifies a notification transport.
type Channel string

const (
	ChannelAudit Channel = "audit"
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

// Event describes one condition worth waking an operator for: a rejected
// settlement, a call to a de-listed target, a failed rollback.
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	RunID      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError builds an alert event for an error whose code is flagged for
// alerting. It returns false when the error does not warrant one.
func FromError(err error, runID string) (Event, bool) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	return Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		RunID:      runID,
		OccurredAt: time.Now(),
	}, true
}

// Notifier delivers events over one channel.
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher broadcasts events to every configured notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher delivers one event to all registered notifiers and joins
// their failures.
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout builds a dispatcher over the given notifiers; nil entries are
// skipped.
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify implements Dispatcher.
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AuditNotifier writes alerts to the audit trail. It is always configured so
// that alert-worthy conditions leave a durable trace even without an
// external channel.
type AuditNotifier struct{}

// Channel returns the audit channel.
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify writes the event to the audit log.
func (n *AuditNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Error("alert raised",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("run_id", event.RunID),
		slog.String("message", event.Message),
	)
	return nil
}

// EmailSender is the outbound mail capability the email notifier depends on.
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier delivers alerts by mail.
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

// Channel returns the email channel.
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify sends one alert mail.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("email notifier not configured, skipping", slog.String("run_id", event.RunID))
		return nil
	}
	subject := fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Code)
	content := fmt.Sprintf("time: %s\nrun: %s\ncode: %s\nmessage: %s",
		event.OccurredAt.Format(time.RFC3339), event.RunID, event.Code, event.Message)
	for k, v := range event.Metadata {
		content += fmt.Sprintf("\n- %s: %s", k, v)
	}
	return n.Sender.Send(ctx, subject, content, n.To)
}

// SlackSender is the outbound message capability the Slack notifier depends
// on.
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier delivers alerts to a Slack channel.
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel returns the Slack channel.
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify posts one alert message.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("slack notifier not configured, skipping", slog.String("run_id", event.RunID))
		return nil
	}
	content := fmt.Sprintf("*[%s]* %s - %s (run %s)", event.Severity, event.Code, event.Message, event.RunID)
	return n.Sender.Send(ctx, n.ChannelID, content)
}

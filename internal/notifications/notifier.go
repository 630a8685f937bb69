package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/pkg/ctxlog"
	"github.com/bissquit/mention-relay/internal/subscriptions"
)

// SnapshotSource publishes the subscription snapshot to route against.
type SnapshotSource interface {
	Snapshot() *subscriptions.Snapshot
}

// NotifierConfig contains delivery configuration.
type NotifierConfig struct {
	SendTimeout    time.Duration
	MaxConcurrency int
}

// DefaultNotifierConfig returns default delivery configuration.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		SendTimeout:    10 * time.Second,
		MaxConcurrency: 8,
	}
}

// Delivery is the outcome of one send.
type Delivery struct {
	Candidate
	Err error
}

// Report summarizes the routing of one event.
type Report struct {
	EventID    string
	Rejected   []Rejection
	Deliveries []Delivery
}

// Delivered returns the number of successful sends.
func (r Report) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of failed sends.
func (r Report) Failed() int {
	return len(r.Deliveries) - r.Delivered()
}

// Notifier routes message events to recipients.
type Notifier struct {
	config   NotifierConfig
	source   SnapshotSource
	matcher  *Matcher
	renderer *Renderer
	sender   Sender
}

// NewNotifier creates a new Notifier.
func NewNotifier(config NotifierConfig, source SnapshotSource, matcher *Matcher, renderer *Renderer, sender Sender) *Notifier {
	defaults := DefaultNotifierConfig()
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	return &Notifier{
		config:   config,
		source:   source,
		matcher:  matcher,
		renderer: renderer,
		sender:   sender,
	}
}

// HandleEvent matches event against the current snapshot and delivers one
// message per admitted candidate. A failed send is logged and recorded in the
// report; it never affects the other recipients.
func (n *Notifier) HandleEvent(ctx context.Context, event domain.MessageEvent) Report {
	logger := ctxlog.FromContext(ctx)

	snap := n.source.Snapshot()
	result := n.matcher.Evaluate(event, snap)
	recordMatch(result)

	report := Report{
		EventID:    event.ID,
		Rejected:   result.Rejected,
		Deliveries: make([]Delivery, len(result.Admitted)),
	}

	if len(result.Admitted) == 0 {
		logger.Debug("no recipients for event",
			"channel", event.ChannelName,
			"rejected", len(result.Rejected),
			"snapshot_loaded", snap.Loaded(),
		)
		return report
	}

	sem := make(chan struct{}, n.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, c := range result.Admitted {
		report.Deliveries[i].Candidate = c

		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				report.Deliveries[i].Err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			report.Deliveries[i].Err = n.deliver(ctx, c, event)
		}(i, c)
	}
	wg.Wait()

	logger.Info("event routed",
		"channel", event.ChannelName,
		"delivered", report.Delivered(),
		"failed", report.Failed(),
		"rejected", len(report.Rejected),
	)
	return report
}

func (n *Notifier) deliver(ctx context.Context, c Candidate, event domain.MessageEvent) error {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	body, err := n.renderer.Render(c, event)
	if err != nil {
		logger.Error("failed to render notification",
			"recipient_id", c.RecipientID,
			"kind", c.Kind,
			"error", err,
		)
		recordNotificationSent(c.Kind, "render_failed", time.Since(start))
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.config.SendTimeout)
	defer cancel()

	if err := n.sender.Send(sendCtx, Notification{To: c.RecipientID, Body: body}); err != nil {
		logger.Warn("failed to send notification",
			"recipient_id", c.RecipientID,
			"kind", c.Kind,
			"trigger", c.Trigger,
			"error", err,
		)
		recordNotificationSent(c.Kind, "failed", time.Since(start))
		return err
	}

	recordNotificationSent(c.Kind, "success", time.Since(start))
	logger.Debug("notification sent",
		"recipient_id", c.RecipientID,
		"kind", c.Kind,
		"trigger", c.Trigger,
	)
	return nil
}

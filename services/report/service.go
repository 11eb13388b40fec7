package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/repositories"
	"github.com/taskpilot/taskpilot/services/fallback"
	"github.com/taskpilot/taskpilot/services/notify"
)

const (
	// DefaultPollInterval is how often the reporter drains unreported outcomes.
	DefaultPollInterval = 30 * time.Second

	// DefaultAlertCooldown suppresses repeated fallback-engaged alerts so a
	// flapping backend cannot spam the channel.
	DefaultAlertCooldown = 5 * time.Minute
)

// Config holds the reporter settings
type Config struct {
	PollInterval  time.Duration
	AlertCooldown time.Duration
}

// DefaultConfig returns the standard reporter settings
func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		AlertCooldown: DefaultAlertCooldown,
	}
}

// Reporter is the downstream consumer of the outcome store. It polls for
// unreported outcomes, delivers a digest through the notifier, and marks each
// outcome reported only after delivery succeeded, so nothing is lost when a
// channel is down. It also announces fallback transitions.
type Reporter struct {
	config   Config
	outcomes repositories.OutcomeStore
	fallback *fallback.Manager
	notifier notify.Notifier
	logger   *zap.Logger

	mu           sync.Mutex
	fallbackSeen bool
	lastAlertAt  time.Time
}

// NewReporter creates an outcome reporter
func NewReporter(
	config Config,
	outcomes repositories.OutcomeStore,
	fallbackManager *fallback.Manager,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Reporter {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.AlertCooldown <= 0 {
		config.AlertCooldown = DefaultAlertCooldown
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reporter{
		config:   config,
		outcomes: outcomes,
		fallback: fallbackManager,
		notifier: notifier,
		logger:   logger,
	}
}

// Run polls until the context is cancelled
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.logger.Info("started outcome reporter",
		zap.Duration("interval", r.config.PollInterval))

	for {
		select {
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reporter poll failed", zap.Error(err))
			}
		case <-ctx.Done():
			r.logger.Info("stopping outcome reporter")
			return
		}
	}
}

// RunOnce performs a single poll: announce fallback transitions, then deliver
// and mark unreported outcomes. Notification failures are not errors; the
// affected work stays queued for the next poll.
func (r *Reporter) RunOnce(ctx context.Context) error {
	if err := r.announceTransitions(ctx); err != nil {
		return err
	}
	return r.reportOutcomes(ctx)
}

// announceTransitions compares the current fallback flag against the last
// observed one and notifies on the edge. A failed notification leaves the
// observed flag untouched so the transition is retried next poll.
func (r *Reporter) announceTransitions(ctx context.Context) error {
	state, err := r.fallback.Snapshot(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	seen := r.fallbackSeen
	lastAlert := r.lastAlertAt
	r.mu.Unlock()

	if state.Enabled == seen {
		return nil
	}

	if state.Enabled && time.Since(lastAlert) < r.config.AlertCooldown {
		r.logger.Debug("fallback alert suppressed by cooldown",
			zap.String("reason", state.Reason))
		r.setFallbackSeen(true, false)
		return nil
	}

	message := restoredMessage
	if state.Enabled {
		message = engagedMessage(state)
	}

	if err := r.notifier.Notify(ctx, message); err != nil {
		r.logger.Warn("transition notification failed", zap.Error(err))
		return nil
	}

	r.setFallbackSeen(state.Enabled, state.Enabled)
	r.logger.Info("fallback transition announced",
		zap.Bool("enabled", state.Enabled),
		zap.String("reason", state.Reason))
	return nil
}

func (r *Reporter) setFallbackSeen(seen, stampAlert bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbackSeen = seen
	if stampAlert {
		r.lastAlertAt = time.Now()
	}
}

// reportOutcomes delivers one digest for everything unreported and marks each
// outcome reported afterwards.
func (r *Reporter) reportOutcomes(ctx context.Context) error {
	unreported, err := r.outcomes.ListUnreported(ctx)
	if err != nil {
		return err
	}
	if len(unreported) == 0 {
		return nil
	}

	if err := r.notifier.Notify(ctx, formatDigest(unreported)); err != nil {
		r.logger.Warn("outcome digest delivery failed",
			zap.Int("outcomes", len(unreported)),
			zap.Error(err))
		return nil
	}

	for _, outcome := range unreported {
		if err := r.outcomes.MarkReported(ctx, outcome.TaskID); err != nil {
			return err
		}
	}

	r.logger.Info("outcomes reported", zap.Int("count", len(unreported)))
	return nil
}

const restoredMessage = "**Normal routing restored**\nPaid backends are back in rotation."

func engagedMessage(state *models.FallbackState) string {
	until := "until cleared manually"
	if state.RateLimitUntil != nil {
		until = "until " + state.RateLimitUntil.UTC().Format("2006-01-02 15:04 MST")
	}
	return fmt.Sprintf("**Fallback routing engaged**\nReason: %s\nPaid backends are disabled %s.",
		state.Reason, until)
}

func formatDigest(outcomes []*models.TaskOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Task outcome report** (%d new)", len(outcomes))
	for _, o := range outcomes {
		b.WriteString("\n")
		b.WriteString(outcomeLine(o))
	}
	return b.String()
}

func outcomeLine(o *models.TaskOutcome) string {
	desc := clip(o.Description, 80)
	if o.Success {
		return fmt.Sprintf("- ok %s via %s: %s (attempts: %d, cost: $%.4f, %dms)",
			o.TaskID, o.Backend, desc, o.Attempts, o.CostUSD, o.LatencyMs)
	}
	return fmt.Sprintf("- FAILED %s: %s (%s)", o.TaskID, desc, clip(o.ErrorSummary, 120))
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

package fallback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/repositories"
	"github.com/taskpilot/taskpilot/services"
)

// DefaultCooldown is how long fallback stays active after a rate-limit
// signal that carries no explicit reset time.
const DefaultCooldown = time.Hour

// Config holds the fallback policy settings.
type Config struct {
	// Cooldown applies to rate-limit signals without a reset time.
	Cooldown time.Duration
}

// DefaultConfig returns the standard fallback policy.
func DefaultConfig() Config {
	return Config{
		Cooldown: DefaultCooldown,
	}
}

// Manager owns the singleton fallback state. Every read and write goes
// through one mutex so an external rate-limit signal cannot race a
// dispatch-driven transition and leave the active-task set inconsistent.
type Manager struct {
	mu     sync.Mutex
	config Config
	store  repositories.StateStore
	logger *zap.Logger
}

// NewManager creates a fallback state manager backed by a state store.
func NewManager(config Config, store repositories.StateStore, logger *zap.Logger) *Manager {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config: config,
		store:  store,
		logger: logger,
	}
}

// Snapshot returns the current state, applying lazy cooldown expiry: an
// elapsed rate-limit horizon is cleared and persisted before the state is
// returned. Expiry only ever happens on read, never on a timer.
func (m *Manager) Snapshot(ctx context.Context) (*models.FallbackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return nil, services.WrapPersistence("loading fallback state", err)
	}

	if state.ExpireIfDue(time.Now().UTC()) {
		if err := m.store.Save(ctx, state); err != nil {
			return nil, services.WrapPersistence("saving expired fallback state", err)
		}
		m.logger.Info("fallback cooldown expired, resuming normal routing")
	}

	return state, nil
}

// ReportRateLimit records an externally observed rate limit and enters
// fallback until resetAt, or for the configured cooldown when resetAt is nil.
func (m *Manager) ReportRateLimit(ctx context.Context, resetAt *time.Time) (*models.FallbackState, error) {
	until := time.Now().UTC().Add(m.config.Cooldown)
	if resetAt != nil {
		until = resetAt.UTC()
	}
	return m.enter(ctx, models.FallbackReasonRateLimit, &until)
}

// EnterFallback switches to fallback routing for the given reason. A nil
// until keeps fallback active until an explicit Clear.
func (m *Manager) EnterFallback(ctx context.Context, reason string, until *time.Time) (*models.FallbackState, error) {
	return m.enter(ctx, reason, until)
}

func (m *Manager) enter(ctx context.Context, reason string, until *time.Time) (*models.FallbackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return nil, services.WrapPersistence("loading fallback state", err)
	}

	state.Enter(reason, until, time.Now().UTC())

	if err := m.store.Save(ctx, state); err != nil {
		return nil, services.WrapPersistence("saving fallback state", err)
	}

	m.logger.Warn("entered fallback routing",
		zap.String("reason", reason),
		zap.Timep("until", until),
	)

	return state, nil
}

// Clear returns routing to normal regardless of the active reason.
func (m *Manager) Clear(ctx context.Context) (*models.FallbackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return nil, services.WrapPersistence("loading fallback state", err)
	}

	state.Clear(time.Now().UTC())

	if err := m.store.Save(ctx, state); err != nil {
		return nil, services.WrapPersistence("saving fallback state", err)
	}

	m.logger.Info("fallback cleared")

	return state, nil
}

// BeginTask records an in-flight task in the persisted state.
func (m *Manager) BeginTask(ctx context.Context, record models.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return services.WrapPersistence("loading fallback state", err)
	}

	if state.ActiveTasks == nil {
		state.ActiveTasks = make(map[string]models.TaskRecord)
	}
	state.ActiveTasks[record.TaskID] = record
	state.UpdatedAt = time.Now().UTC()

	if err := m.store.Save(ctx, state); err != nil {
		return services.WrapPersistence("saving fallback state", err)
	}

	return nil
}

// EndTask removes an in-flight task record. Unknown task IDs are a no-op.
func (m *Manager) EndTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.store.Load(ctx)
	if err != nil {
		return services.WrapPersistence("loading fallback state", err)
	}

	delete(state.ActiveTasks, taskID)
	state.UpdatedAt = time.Now().UTC()

	if err := m.store.Save(ctx, state); err != nil {
		return services.WrapPersistence("saving fallback state", err)
	}

	return nil
}

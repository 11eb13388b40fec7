package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services"
	"github.com/taskpilot/taskpilot/services/backends"
	"github.com/taskpilot/taskpilot/services/classify"
	"github.com/taskpilot/taskpilot/services/fallback"
	"github.com/taskpilot/taskpilot/services/routing"
)

// stubBackend is a scriptable Backend implementation for dispatcher tests
type stubBackend struct {
	id string

	mu        sync.Mutex
	available bool
	err       error
	delay     time.Duration
	content   string
	calls     int
}

func newStubBackend(id string) *stubBackend {
	return &stubBackend{
		id:        id,
		available: true,
		content:   "stub answer from " + id,
	}
}

func (b *stubBackend) setError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *stubBackend) setAvailable(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = v
}

func (b *stubBackend) setDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
}

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *stubBackend) ID() string { return b.id }

func (b *stubBackend) Execute(ctx context.Context, req *backends.ExecuteRequest) (*backends.ExecuteResult, error) {
	b.mu.Lock()
	b.calls++
	err := b.err
	delay := b.delay
	content := b.content
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &backends.ExecuteResult{
		Backend:          b.id,
		Content:          content,
		PromptTokens:     100,
		CompletionTokens: 40,
		Latency:          25 * time.Millisecond,
	}, nil
}

func (b *stubBackend) IsAvailable(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// memStateStore is an in-memory StateStore
type memStateStore struct {
	mu    sync.Mutex
	state *models.FallbackState
}

func (s *memStateStore) Load(ctx context.Context) (*models.FallbackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return models.NewFallbackState(), nil
	}
	return cloneState(s.state), nil
}

func (s *memStateStore) Save(ctx context.Context, state *models.FallbackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloneState(state)
	return nil
}

func cloneState(state *models.FallbackState) *models.FallbackState {
	out := *state
	if state.RateLimitUntil != nil {
		t := *state.RateLimitUntil
		out.RateLimitUntil = &t
	}
	out.ActiveTasks = make(map[string]models.TaskRecord, len(state.ActiveTasks))
	for k, v := range state.ActiveTasks {
		out.ActiveTasks[k] = v
	}
	return &out
}

// memOutcomeStore is an in-memory OutcomeStore
type memOutcomeStore struct {
	mu        sync.Mutex
	outcomes  map[string]*models.TaskOutcome
	appendErr error
}

func newMemOutcomeStore() *memOutcomeStore {
	return &memOutcomeStore{outcomes: make(map[string]*models.TaskOutcome)}
}

func (s *memOutcomeStore) Append(ctx context.Context, outcome *models.TaskOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if _, dup := s.outcomes[outcome.TaskID]; dup {
		return fmt.Errorf("duplicate task outcome: %s", outcome.TaskID)
	}
	clone := *outcome
	s.outcomes[outcome.TaskID] = &clone
	return nil
}

func (s *memOutcomeStore) GetByTaskID(ctx context.Context, taskID string) (*models.TaskOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[taskID]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "task outcome not found: "+taskID, nil)
	}
	clone := *outcome
	return &clone, nil
}

func (s *memOutcomeStore) ListUnreported(ctx context.Context) ([]*models.TaskOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskOutcome
	for _, o := range s.outcomes {
		if !o.Reported {
			clone := *o
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.Before(out[j].CompletedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

func (s *memOutcomeStore) MarkReported(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[taskID]
	if !ok {
		return services.NewDomainError(services.ErrorTypeNotFound, "task outcome not found: "+taskID, nil)
	}
	outcome.MarkReported()
	return nil
}

func (s *memOutcomeStore) CostSince(ctx context.Context, t time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, o := range s.outcomes {
		if !o.CompletedAt.Before(t) {
			total += o.CostUSD
		}
	}
	return total, nil
}

func (s *memOutcomeStore) CountCompleted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes), nil
}

func (s *memOutcomeStore) CountUnreported(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, o := range s.outcomes {
		if !o.Reported {
			count++
		}
	}
	return count, nil
}

// testEnv wires a dispatcher against stub backends and in-memory stores
type testEnv struct {
	dispatcher *Dispatcher
	registry   *backends.Registry
	manager    *fallback.Manager
	outcomes   *memOutcomeStore
	stubs      map[string]*stubBackend
}

func newTestEnv(t *testing.T, config Config) *testEnv {
	t.Helper()

	registry, err := backends.NewRegistry(backends.DefaultFile())
	require.NoError(t, err)

	stubs := make(map[string]*stubBackend)
	for _, id := range registry.IDs() {
		stub := newStubBackend(id)
		require.NoError(t, registry.RegisterExecutor(stub))
		stubs[id] = stub
	}

	classifier, err := classify.NewRegexClassifier(registry.Specs(), registry.RequiresPrimary())
	require.NoError(t, err)

	scorer := routing.NewScorer(routing.DefaultScorerConfig(), registry, zap.NewNop())
	manager := fallback.NewManager(fallback.DefaultConfig(), &memStateStore{}, zap.NewNop())
	outcomes := newMemOutcomeStore()

	dispatcher := NewDispatcher(config, registry, classifier, scorer, manager, outcomes, zap.NewNop())

	return &testEnv{
		dispatcher: dispatcher,
		registry:   registry,
		manager:    manager,
		outcomes:   outcomes,
		stubs:      stubs,
	}
}

func testConfig() Config {
	return Config{AttemptTimeout: 2 * time.Second}
}

func TestDispatchFirstChoiceSucceeds(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "generate a React dashboard component",
		Mode:        models.ModeCode,
	})
	require.NoError(t, err)

	assert.True(t, result.Routed)
	assert.True(t, result.Success)
	assert.False(t, result.Blocked)
	assert.Equal(t, "agentcli", result.Backend)
	assert.Equal(t, "agentcli", result.Decision.Backend)
	assert.InDelta(t, 0.6, result.Decision.Confidence, 1e-9)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Success)
	require.NotNil(t, result.Output)
	assert.Equal(t, "stub answer from agentcli", result.Output.Content)

	// only the winner executed
	assert.Equal(t, 1, env.stubs["agentcli"].callCount())
	assert.Equal(t, 0, env.stubs["reasoning"].callCount())
	assert.Equal(t, 0, env.stubs["inference"].callCount())

	// outcome persisted, in-flight record cleared
	outcome, err := env.outcomes.GetByTaskID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "agentcli", outcome.Backend)
	assert.Equal(t, 1, outcome.Attempts)
	assert.False(t, outcome.Reported)

	state, err := env.manager.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.ActiveTasks)
}

func TestDispatchWalksFallbackChain(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.stubs["agentcli"].setError(errors.New("agent binary crashed"))

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "generate a React dashboard component",
	})
	require.NoError(t, err)

	// chosen agentcli fails, first alternate reasoning takes over
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "agentcli", result.Attempts[0].Backend)
	assert.False(t, result.Attempts[0].Success)
	assert.Contains(t, result.Attempts[0].Error, "agent binary crashed")
	assert.Equal(t, "reasoning", result.Attempts[1].Backend)
	assert.True(t, result.Attempts[1].Success)

	assert.True(t, result.Success)
	assert.Equal(t, "reasoning", result.Backend)

	outcome, err := env.outcomes.GetByTaskID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, "reasoning", outcome.Backend)
}

func TestDispatchExhaustsChain(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	for _, stub := range env.stubs {
		stub.setError(errors.New("backend down"))
	}

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "generate a React dashboard component",
	})
	require.NoError(t, err)

	assert.True(t, result.Routed)
	assert.False(t, result.Success)
	assert.False(t, result.Blocked)
	assert.Len(t, result.Attempts, 3)
	assert.Contains(t, result.Err, "all backends failed")
	assert.Contains(t, result.Err, "agentcli")
	assert.Contains(t, result.Err, "reasoning")
	assert.Contains(t, result.Err, "inference")

	outcome, err := env.outcomes.GetByTaskID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Contains(t, outcome.ErrorSummary, "all backends failed")
}

func TestDispatchBlockedDuringFallback(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.manager.EnterFallback(ctx, models.FallbackReasonRateLimit, nil)
	require.NoError(t, err)

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "remember this fact for later",
	})
	require.NoError(t, err)

	assert.True(t, result.Blocked)
	assert.False(t, result.Routed)
	assert.False(t, result.Success)
	assert.Contains(t, result.BlockReason, "requires primary capability")
	assert.Empty(t, result.Attempts)

	// zero execution calls
	for id, stub := range env.stubs {
		assert.Zero(t, stub.callCount(), "backend %s must not execute", id)
	}

	outcome, err := env.outcomes.GetByTaskID(ctx, result.TaskID)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.ErrorSummary, "blocked:")
}

func TestDispatchRateLimitSelfTransition(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.stubs["reasoning"].setError(backends.NewRateLimitError("reasoning", "you've hit your limit", 429, nil))

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "run a security audit of the payment service",
	})
	require.NoError(t, err)

	// reasoning was chosen, got rate limited, chain continued
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "reasoning", result.Attempts[0].Backend)
	assert.True(t, result.Attempts[0].RateLimited)
	assert.True(t, result.Success)
	assert.Equal(t, "agentcli", result.Backend)

	// the dispatcher itself entered fallback
	state, err := env.manager.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, models.FallbackReasonRateLimit, state.Reason)
	require.NotNil(t, state.RateLimitUntil)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *state.RateLimitUntil, 5*time.Second)
}

func TestDispatchFallbackExcludesPaidBackends(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.manager.EnterFallback(ctx, models.FallbackReasonManual, nil)
	require.NoError(t, err)

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "summarize this meeting transcript",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.FallbackActive)
	assert.Equal(t, "agentcli", result.Backend)

	assert.Zero(t, env.stubs["reasoning"].callCount())
	assert.Zero(t, env.stubs["inference"].callCount())
}

func TestDispatchForcedBackend(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	// forcing wins even when the availability probe says no
	env.stubs["reasoning"].setAvailable(false)

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "translate this sentence to French",
		Preferences: models.Preferences{ForceBackend: "reasoning"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "reasoning", result.Backend)
	assert.True(t, result.Decision.Forced)
	assert.Equal(t, 1.0, result.Decision.Confidence)
	assert.Empty(t, result.Decision.Alternates)
	require.NotEmpty(t, result.Attempts)
	assert.Equal(t, "reasoning", result.Attempts[0].Backend)
}

func TestDispatchSkipsUnavailableBackend(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.stubs["reasoning"].setAvailable(false)

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "run a security audit of the payment service",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Zero(t, env.stubs["reasoning"].callCount())
	for _, attempt := range result.Attempts {
		assert.NotEqual(t, "reasoning", attempt.Backend)
	}
}

func TestDispatchForcedBackendWithoutExecutor(t *testing.T) {
	registry, err := backends.NewRegistry(backends.DefaultFile())
	require.NoError(t, err)

	// only the free CLI gets an executor
	agent := newStubBackend("agentcli")
	require.NoError(t, registry.RegisterExecutor(agent))

	classifier, err := classify.NewRegexClassifier(registry.Specs(), registry.RequiresPrimary())
	require.NoError(t, err)
	scorer := routing.NewScorer(routing.DefaultScorerConfig(), registry, zap.NewNop())
	manager := fallback.NewManager(fallback.DefaultConfig(), &memStateStore{}, zap.NewNop())
	outcomes := newMemOutcomeStore()
	dispatcher := NewDispatcher(testConfig(), registry, classifier, scorer, manager, outcomes, zap.NewNop())

	result, err := dispatcher.Dispatch(context.Background(), &Request{
		Description: "scaffold a project",
		Preferences: models.Preferences{ForceBackend: "reasoning"},
	})
	require.NoError(t, err)

	// forced head has no executor: the attempt fails, the chain continues
	assert.True(t, result.Success)
	assert.Equal(t, "agentcli", result.Backend)
	require.GreaterOrEqual(t, len(result.Attempts), 2)
	assert.Equal(t, "reasoning", result.Attempts[0].Backend)
	assert.Contains(t, result.Attempts[0].Error, "executor not registered")
}

func TestDispatchBudgetCutoff(t *testing.T) {
	config := testConfig()
	config.DailyBudgetUSD = 5.0
	env := newTestEnv(t, config)
	ctx := context.Background()

	// a paid outcome from earlier today already blew the budget
	spent := models.NewTaskOutcome("task_prior", "earlier work", "reasoning", models.ModeChat)
	spent.MarkSucceeded("done", 4000, 2000, 6.0, 900)
	require.NoError(t, env.outcomes.Append(ctx, spent))

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "summarize this meeting transcript",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.FallbackActive)
	assert.Equal(t, "agentcli", result.Backend)
	assert.Zero(t, env.stubs["inference"].callCount())
	assert.Zero(t, env.stubs["reasoning"].callCount())

	state, err := env.manager.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, models.FallbackReasonBudget, state.Reason)
}

func TestDispatchValidation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		req  *Request
	}{
		{"empty description", &Request{Description: "   "}},
		{"unknown mode", &Request{Description: "do something", Mode: "turbo"}},
		{"unknown forced backend", &Request{
			Description: "do something",
			Preferences: models.Preferences{ForceBackend: "mainframe"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.dispatcher.Dispatch(ctx, tt.req)
			assert.True(t, services.IsValidationError(err))
		})
	}

	// validation failures execute nothing and persist nothing
	for _, stub := range env.stubs {
		assert.Zero(t, stub.callCount())
	}
	count, err := env.outcomes.CountCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatchPersistenceFailureIsFatal(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.outcomes.appendErr = errors.New("disk full")

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "generate a React dashboard component",
	})
	assert.Nil(t, result)
	assert.True(t, services.IsPersistenceError(err))
}

func TestDispatchCallerCancellation(t *testing.T) {
	env := newTestEnv(t, testConfig())

	env.stubs["agentcli"].setDelay(150 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := env.dispatcher.Dispatch(ctx, &Request{
		Description: "generate a React dashboard component",
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the abandoned attempt resolves on its own and the in-flight record
	// drains without its result being persisted
	require.Eventually(t, func() bool {
		state, snapErr := env.manager.Snapshot(context.Background())
		return snapErr == nil && len(state.ActiveTasks) == 0
	}, 2*time.Second, 10*time.Millisecond)

	count, err := env.outcomes.CountCompleted(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRouteDryRun(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	view, err := env.dispatcher.Route(ctx, &Request{
		Description: "generate a React dashboard component",
	})
	require.NoError(t, err)

	assert.Equal(t, "agentcli", view.Decision.Backend)
	assert.Equal(t, 3, view.Counts["agentcli"])
	assert.Equal(t, []string{"agentcli", "reasoning", "inference"}, view.AttemptPlan)
	assert.False(t, view.FallbackActive)
	assert.False(t, view.WouldBlock)

	// dry run executes nothing and persists nothing
	for _, stub := range env.stubs {
		assert.Zero(t, stub.callCount())
	}
	count, err := env.outcomes.CountCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRouteReportsWouldBlock(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.manager.EnterFallback(ctx, models.FallbackReasonRateLimit, nil)
	require.NoError(t, err)

	view, err := env.dispatcher.Route(ctx, &Request{
		Description: "send a message to the team slack",
	})
	require.NoError(t, err)

	assert.True(t, view.FallbackActive)
	assert.True(t, view.WouldBlock)
}

func TestStatusSummary(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	// two outcomes, one reported
	first := models.NewTaskOutcome("task_a", "first", "inference", models.ModeChat)
	first.MarkSucceeded("ok", 10, 5, 0.001, 80)
	require.NoError(t, env.outcomes.Append(ctx, first))
	second := models.NewTaskOutcome("task_b", "second", "agentcli", models.ModeCode)
	second.MarkFailed("broke")
	require.NoError(t, env.outcomes.Append(ctx, second))
	require.NoError(t, env.outcomes.MarkReported(ctx, "task_a"))

	until := time.Now().UTC().Add(30 * time.Minute)
	_, err := env.manager.ReportRateLimit(ctx, &until)
	require.NoError(t, err)

	status, err := env.dispatcher.Status(ctx)
	require.NoError(t, err)

	assert.True(t, status.FallbackEnabled)
	assert.Equal(t, models.FallbackReasonRateLimit, status.Reason)
	require.NotNil(t, status.RateLimitUntil)
	assert.NotEmpty(t, status.CooldownRemaining)
	assert.Equal(t, 0, status.ActiveTasks)
	assert.Equal(t, 2, status.CompletedTasks)
	assert.Equal(t, 1, status.UnreportedTasks)
}

func TestDispatchDeterministicDecision(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	var first *RouteView
	for i := 0; i < 20; i++ {
		view, err := env.dispatcher.Route(ctx, &Request{
			Description: "classify these support tickets quickly",
			Preferences: models.Preferences{PreferSpeed: true},
		})
		require.NoError(t, err)
		if first == nil {
			first = view
			continue
		}
		assert.Equal(t, first.Decision, view.Decision)
		assert.Equal(t, first.AttemptPlan, view.AttemptPlan)
	}
}

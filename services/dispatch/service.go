package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/repositories"
	"github.com/taskpilot/taskpilot/services"
	"github.com/taskpilot/taskpilot/services/backends"
	"github.com/taskpilot/taskpilot/services/classify"
	"github.com/taskpilot/taskpilot/services/fallback"
	"github.com/taskpilot/taskpilot/services/routing"
)

// budgetWindow is the rolling period the daily budget cutoff sums over.
const budgetWindow = 24 * time.Hour

// Dispatcher orchestrates the complete task pipeline: budget gate, fallback
// snapshot, blocking policy, classify+score, and the fallback chain of
// execution attempts. Outcomes land in the outcome store; in-flight
// bookkeeping and fallback transitions go through the fallback manager.
type Dispatcher struct {
	config     Config
	registry   *backends.Registry
	classifier classify.Classifier
	scorer     *routing.Scorer
	fallback   *fallback.Manager
	outcomes   repositories.OutcomeStore
	limiters   map[string]*rate.Limiter
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher with all dependencies
func NewDispatcher(
	config Config,
	registry *backends.Registry,
	classifier classify.Classifier,
	scorer *routing.Scorer,
	fallbackManager *fallback.Manager,
	outcomes repositories.OutcomeStore,
	logger *zap.Logger,
) *Dispatcher {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if config.BackendBurst < 1 {
		config.BackendBurst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if config.BackendRPS > 0 {
		limit = rate.Limit(config.BackendRPS)
	}
	limiters := make(map[string]*rate.Limiter, registry.Count())
	for _, id := range registry.IDs() {
		limiters[id] = rate.NewLimiter(limit, config.BackendBurst)
	}

	return &Dispatcher{
		config:     config,
		registry:   registry,
		classifier: classifier,
		scorer:     scorer,
		fallback:   fallbackManager,
		outcomes:   outcomes,
		limiters:   limiters,
		logger:     logger,
	}
}

// Dispatch routes and executes one task through the fallback chain. Backend
// failures are consumed by the chain and reported inside the Result; the
// returned error is reserved for validation, persistence failures, and caller
// cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = models.NewTaskID()
	}
	startTime := time.Now()

	d.logger.Info("starting dispatch",
		zap.String("task_id", taskID),
		zap.String("mode", string(req.Mode)),
		zap.Int("description_len", len(req.Description)))

	// Step 1: snapshot fallback state (with budget gate)
	d.logger.Debug("step 1: reading fallback state", zap.String("task_id", taskID))
	state, err := d.currentState(ctx)
	if err != nil {
		return nil, err
	}

	// Step 2: blocking policy. Fallback degrades capability; a task that
	// needs the primary's capabilities waits instead of being rerouted.
	if state.Enabled && d.classifier.RequiresPrimary(req.Description) {
		d.logger.Debug("step 2: task blocked by fallback policy", zap.String("task_id", taskID))
		return d.finishBlocked(ctx, taskID, req, state, startTime)
	}

	// Step 3: classify and score
	d.logger.Debug("step 3: classifying and scoring", zap.String("task_id", taskID))
	availability := d.availability(ctx, state)
	counts := d.classifier.Classify(req.Description)
	decision := d.scorer.Score(counts, req.Preferences, availability)

	// Step 4: build the attempt chain
	chain := d.attemptChain(decision, availability)
	d.logger.Debug("step 4: attempt chain built",
		zap.String("task_id", taskID),
		zap.Strings("chain", chain))

	// Step 5: walk the chain. Attempts are independent: a failed attempt's
	// side effects are never rolled back before the next backend runs.
	result := &Result{
		TaskID:         taskID,
		Routed:         true,
		Decision:       decision,
		FallbackActive: state.Enabled,
	}
	var attemptErrs []string

	for _, backendID := range chain {
		attempt, execResult, err := d.runAttempt(ctx, taskID, backendID, req)
		if err != nil {
			return nil, err
		}
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Success {
			result.Success = true
			result.Backend = backendID
			result.Output = execResult
			return d.finishSuccess(ctx, result, req, execResult, startTime)
		}

		attemptErrs = append(attemptErrs, fmt.Sprintf("%s: %s", backendID, attempt.Error))
	}

	// Step 6: chain exhausted
	return d.finishExhausted(ctx, result, req, attemptErrs, startTime)
}

// Route is the dry-run surface: classify and score under the current
// fallback state without executing anything.
func (d *Dispatcher) Route(ctx context.Context, req *Request) (*RouteView, error) {
	if err := d.validate(req); err != nil {
		return nil, err
	}

	state, err := d.currentState(ctx)
	if err != nil {
		return nil, err
	}

	availability := d.availability(ctx, state)
	counts := d.classifier.Classify(req.Description)
	decision := d.scorer.Score(counts, req.Preferences, availability)

	return &RouteView{
		Decision:       decision,
		Counts:         counts,
		AttemptPlan:    d.attemptChain(decision, availability),
		FallbackActive: state.Enabled,
		WouldBlock:     state.Enabled && d.classifier.RequiresPrimary(req.Description),
	}, nil
}

// Status summarizes the orchestrator state for the status surface
func (d *Dispatcher) Status(ctx context.Context) (*models.StatusSummary, error) {
	state, err := d.fallback.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	completed, err := d.outcomes.CountCompleted(ctx)
	if err != nil {
		return nil, services.WrapPersistence("counting completed outcomes", err)
	}
	unreported, err := d.outcomes.CountUnreported(ctx)
	if err != nil {
		return nil, services.WrapPersistence("counting unreported outcomes", err)
	}

	summary := &models.StatusSummary{
		FallbackEnabled: state.Enabled,
		Reason:          state.Reason,
		RateLimitUntil:  state.RateLimitUntil,
		ActiveTasks:     len(state.ActiveTasks),
		CompletedTasks:  completed,
		UnreportedTasks: unreported,
		UpdatedAt:       state.UpdatedAt,
	}
	if remaining := state.CooldownRemaining(time.Now().UTC()); remaining > 0 {
		summary.CooldownRemaining = remaining.Round(time.Second).String()
	}
	return summary, nil
}

// validate normalizes and checks a request in place
func (d *Dispatcher) validate(req *Request) error {
	if req == nil || strings.TrimSpace(req.Description) == "" {
		return services.ErrEmptyDescription
	}
	if req.Mode == "" {
		req.Mode = models.ModeChat
	}
	if !req.Mode.Valid() {
		return services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("invalid task mode %q", req.Mode), nil)
	}
	if forced := req.Preferences.ForceBackend; forced != "" && !d.registry.Has(forced) {
		return services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("forced backend %q is not registered", forced), nil)
	}
	if req.Timeout <= 0 {
		req.Timeout = d.config.AttemptTimeout
	}
	return nil
}

// currentState reads the fallback state, entering budget fallback first when
// the rolling-day spend has crossed the configured cap.
func (d *Dispatcher) currentState(ctx context.Context) (*models.FallbackState, error) {
	state, err := d.fallback.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if d.config.DailyBudgetUSD <= 0 || state.Enabled {
		return state, nil
	}

	spent, err := d.outcomes.CostSince(ctx, time.Now().UTC().Add(-budgetWindow))
	if err != nil {
		return nil, services.WrapPersistence("summing rolling-day cost", err)
	}
	if spent < d.config.DailyBudgetUSD {
		return state, nil
	}

	d.logger.Warn("daily budget exhausted",
		zap.Float64("spent_usd", spent),
		zap.Float64("budget_usd", d.config.DailyBudgetUSD))

	// The horizon makes budget fallback self-healing: after it lapses the
	// next dispatch re-checks spend and re-enters if still over.
	until := time.Now().UTC().Add(fallback.DefaultCooldown)
	return d.fallback.EnterFallback(ctx, models.FallbackReasonBudget, &until)
}

// availability probes every backend and, while fallback is active, marks the
// paid backends unavailable so routing degrades to free capacity.
func (d *Dispatcher) availability(ctx context.Context, state *models.FallbackState) map[string]bool {
	availability := d.registry.Availability(ctx)
	if !state.Enabled {
		return availability
	}
	for _, spec := range d.registry.Specs() {
		if !spec.IsFree() {
			availability[spec.ID] = false
		}
	}
	return availability
}

// attemptChain builds the ordered, deduplicated fallback chain: the chosen
// backend, the scorer's alternates, then the fixed secondary order. Backends
// the availability map excludes are dropped, except a forced choice, which
// always keeps its slot at the head.
func (d *Dispatcher) attemptChain(decision models.RoutingDecision, availability map[string]bool) []string {
	seen := make(map[string]bool)
	var chain []string
	add := func(id string, forced bool) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		if avail, ok := availability[id]; ok && !avail && !forced {
			return
		}
		chain = append(chain, id)
	}

	add(decision.Backend, decision.Forced)
	for _, id := range decision.Alternates {
		add(id, false)
	}
	for _, id := range d.registry.SecondaryOrder() {
		add(id, false)
	}
	return chain
}

// attemptOutcome carries one backend call's result across the goroutine
// boundary.
type attemptOutcome struct {
	result *backends.ExecuteResult
	err    error
}

// runAttempt executes one backend try with in-flight bookkeeping. Backend
// failures come back inside the Attempt; the error return is reserved for
// persistence failures and caller cancellation.
func (d *Dispatcher) runAttempt(ctx context.Context, taskID, backendID string, req *Request) (Attempt, *backends.ExecuteResult, error) {
	attempt := Attempt{Backend: backendID}

	executor, err := d.registry.Executor(backendID)
	if err != nil {
		attempt.Error = err.Error()
		d.logger.Warn("attempt skipped, no executor",
			zap.String("task_id", taskID),
			zap.String("backend", backendID))
		return attempt, nil, nil
	}

	record := models.NewTaskRecord(taskID, req.Description, backendID, req.Mode)
	if err := d.fallback.BeginTask(ctx, record); err != nil {
		return attempt, nil, err
	}

	if limiter := d.limiters[backendID]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			d.endTaskBestEffort(taskID)
			return attempt, nil, err
		}
	}

	execReq := &backends.ExecuteRequest{
		TaskID:         taskID,
		Description:    req.Description,
		Mode:           req.Mode,
		WorkingContext: req.WorkingContext,
		Timeout:        req.Timeout,
	}

	// The attempt context deliberately does not descend from the caller's:
	// a cancelled dispatch must let the in-flight call finish or time out
	// on its own, it just stops acting on the result.
	attemptCtx, cancel := context.WithTimeout(context.Background(), req.Timeout)

	ch := make(chan attemptOutcome, 1)
	go func() {
		res, execErr := executor.Execute(attemptCtx, execReq)
		ch <- attemptOutcome{result: res, err: execErr}
	}()

	select {
	case <-ctx.Done():
		// Drain in the background and drop the bookkeeping record once the
		// abandoned call resolves.
		go func() {
			<-ch
			cancel()
			d.endTaskBestEffort(taskID)
		}()
		return attempt, nil, ctx.Err()

	case out := <-ch:
		cancel()
		if endErr := d.fallback.EndTask(ctx, taskID); endErr != nil {
			return attempt, nil, endErr
		}

		if out.err != nil {
			attempt.Error = out.err.Error()
			attempt.RateLimited = fallback.IsLimitSignal(out.err)
			d.logger.Warn("backend attempt failed",
				zap.String("task_id", taskID),
				zap.String("backend", backendID),
				zap.Bool("rate_limited", attempt.RateLimited),
				zap.Error(out.err))

			if attempt.RateLimited {
				if _, err := d.fallback.ReportRateLimit(ctx, nil); err != nil {
					return attempt, nil, err
				}
			}
			return attempt, nil, nil
		}

		attempt.Success = true
		attempt.LatencyMs = int(out.result.Latency.Milliseconds())
		return attempt, out.result, nil
	}
}

// endTaskBestEffort removes an in-flight record outside the caller's context
func (d *Dispatcher) endTaskBestEffort(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.fallback.EndTask(ctx, taskID); err != nil {
		d.logger.Error("failed to clear in-flight task record",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}

// finishSuccess persists the winning outcome and completes the result
func (d *Dispatcher) finishSuccess(ctx context.Context, result *Result, req *Request, execResult *backends.ExecuteResult, startTime time.Time) (*Result, error) {
	outcome := models.NewTaskOutcome(result.TaskID, req.Description, result.Backend, req.Mode)
	outcome.MarkSucceeded(
		execResult.Content,
		execResult.PromptTokens,
		execResult.CompletionTokens,
		execResult.CostUSD,
		int(execResult.Latency.Milliseconds()),
	)
	outcome.Attempts = len(result.Attempts)

	if err := d.outcomes.Append(ctx, outcome); err != nil {
		return nil, services.WrapPersistence("appending task outcome", err)
	}

	result.LatencyMs = int(time.Since(startTime).Milliseconds())
	result.CompletedAt = outcome.CompletedAt

	d.logger.Info("dispatch completed",
		zap.String("task_id", result.TaskID),
		zap.String("backend", result.Backend),
		zap.Int("attempts", outcome.Attempts),
		zap.Int("latency_ms", result.LatencyMs),
		zap.Float64("cost_usd", execResult.CostUSD),
		zap.Int("tokens", execResult.TotalTokens()))

	return result, nil
}

// finishExhausted persists a terminal failure outcome after the whole chain
// failed. Never an error for the backend failures themselves.
func (d *Dispatcher) finishExhausted(ctx context.Context, result *Result, req *Request, attemptErrs []string, startTime time.Time) (*Result, error) {
	summary := "no eligible backend available"
	if len(attemptErrs) > 0 {
		summary = "all backends failed: " + strings.Join(attemptErrs, "; ")
	}

	outcome := models.NewTaskOutcome(result.TaskID, req.Description, "", req.Mode)
	outcome.MarkFailed(summary)
	outcome.Attempts = len(result.Attempts)

	if err := d.outcomes.Append(ctx, outcome); err != nil {
		return nil, services.WrapPersistence("appending task outcome", err)
	}

	result.Success = false
	result.Err = summary
	result.LatencyMs = int(time.Since(startTime).Milliseconds())
	result.CompletedAt = outcome.CompletedAt

	d.logger.Warn("dispatch exhausted fallback chain",
		zap.String("task_id", result.TaskID),
		zap.Int("attempts", outcome.Attempts),
		zap.String("error", summary))

	return result, nil
}

// finishBlocked persists a blocked outcome without any execution call
func (d *Dispatcher) finishBlocked(ctx context.Context, taskID string, req *Request, state *models.FallbackState, startTime time.Time) (*Result, error) {
	reason := fmt.Sprintf("task requires primary capability unavailable during fallback (%s)", state.Reason)

	outcome := models.NewTaskOutcome(taskID, req.Description, "", req.Mode)
	outcome.MarkFailed("blocked: " + reason)
	if err := d.outcomes.Append(ctx, outcome); err != nil {
		return nil, services.WrapPersistence("appending task outcome", err)
	}

	d.logger.Warn("task blocked by fallback policy",
		zap.String("task_id", taskID),
		zap.String("fallback_reason", state.Reason))

	return &Result{
		TaskID:         taskID,
		Routed:         false,
		Blocked:        true,
		BlockReason:    reason,
		Success:        false,
		FallbackActive: true,
		LatencyMs:      int(time.Since(startTime).Milliseconds()),
		CompletedAt:    outcome.CompletedAt,
	}, nil
}

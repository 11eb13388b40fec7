package agentcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/backends"
)

// Agent CLI errors
var (
	// ErrAgentNotFound indicates the agent CLI binary was not found
	ErrAgentNotFound = errors.New("agent CLI not found")

	// ErrAgentTimeout indicates the agent CLI execution timed out
	ErrAgentTimeout = errors.New("agent CLI timed out")

	// ErrAgentFailed indicates the agent CLI exited with an error
	ErrAgentFailed = errors.New("agent CLI failed")
)

// Config configures the agent CLI adapter
type Config struct {
	BinaryPath string        // Path to the agent binary (default: "agent")
	Model      string        // Model flag passed through (empty = CLI default)
	Timeout    time.Duration // Default timeout (default: 5m)
	MaxTurns   int           // Max conversation turns (default: 10)
	WorkDir    string        // Working directory for runs
}

// Adapter executes tasks by shelling out to a local agent CLI. The binary is
// free to use, so every result reports zero cost unless the CLI itself
// reports one.
type Adapter struct {
	spec   models.BackendSpec
	config Config
	logger *zap.Logger
}

// NewAdapter creates an agent CLI adapter. A missing binary does not fail
// construction; the backend simply reads as unavailable until it appears on
// PATH.
func NewAdapter(spec models.BackendSpec, config Config, logger *zap.Logger) *Adapter {
	if config.BinaryPath == "" {
		config.BinaryPath = "agent"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxTurns == 0 {
		config.MaxTurns = 10
	}

	return &Adapter{
		spec:   spec,
		config: config,
		logger: logger,
	}
}

// ID returns the registry identifier this adapter serves
func (a *Adapter) ID() string {
	return a.spec.ID
}

// IsAvailable reports whether the agent binary is installed
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.config.BinaryPath)
	return err == nil
}

// Execute runs one task through the agent CLI
func (a *Adapter) Execute(ctx context.Context, req *backends.ExecuteRequest) (*backends.ExecuteResult, error) {
	path, err := exec.LookPath(a.config.BinaryPath)
	if err != nil {
		return nil, backends.NewBackendError(a.spec.ID, "not_installed", "agent binary not on PATH", 0, false, ErrAgentNotFound)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = a.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := req.Description
	if req.WorkingContext != "" {
		prompt = req.Description + "\n\n## Context\n\n" + req.WorkingContext
	}

	cmd := exec.CommandContext(ctx, path, a.buildArgs(req.Mode, prompt)...)
	if a.config.WorkDir != "" {
		cmd.Dir = a.config.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, backends.NewBackendError(a.spec.ID, "timeout",
				fmt.Sprintf("agent run exceeded %v", timeout), 0, true, ErrAgentTimeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, backends.NewBackendError(a.spec.ID, "canceled", "agent run canceled", 0, false, ctx.Err())
		}

		// stderr carries the CLI's own failure text, including any quota or
		// rate-limit message the dispatcher scans for.
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, backends.NewBackendError(a.spec.ID, "exec_failed", msg, 0, true, ErrAgentFailed)
	}

	parsed, err := parseOutput(stdout.Bytes())
	if err != nil {
		// CLIs without JSON output still produce usable plain text
		parsed = &cliOutput{Result: strings.TrimSpace(stdout.String())}
	}

	a.logger.Debug("agent run finished",
		zap.String("backend", a.spec.ID),
		zap.String("task_id", req.TaskID),
		zap.Duration("duration", duration))

	return &backends.ExecuteResult{
		Backend:          a.spec.ID,
		Content:          parsed.Result,
		PromptTokens:     parsed.tokensIn(),
		CompletionTokens: parsed.tokensOut(),
		CostUSD:          parsed.cost(),
		Latency:          duration,
	}, nil
}

// buildArgs constructs the CLI invocation for a task
func (a *Adapter) buildArgs(mode models.TaskMode, prompt string) []string {
	args := []string{"--print", "--output-format", "json"}

	if a.config.Model != "" {
		args = append(args, "--model", a.config.Model)
	}
	if a.config.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", a.config.MaxTurns))
	}
	if sp := systemPrompt(mode); sp != "" {
		args = append(args, "--system-prompt", sp)
	}

	args = append(args, "-p", prompt)
	return args
}

func systemPrompt(mode models.TaskMode) string {
	switch mode {
	case models.ModeCode:
		return "Produce complete, working code with no placeholders."
	case models.ModeChat:
		return "Answer directly without editing any files."
	default:
		// Agent mode uses the CLI's own defaults
		return ""
	}
}

// cliOutput represents the JSON document printed by the agent CLI. Field
// names vary across CLI versions, so token and cost fields are aliased.
type cliOutput struct {
	Result       string  `json:"result"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	CostUSD      float64 `json:"cost_usd"`
}

func (o *cliOutput) tokensIn() int {
	if o.TokensIn != 0 {
		return o.TokensIn
	}
	return o.InputTokens
}

func (o *cliOutput) tokensOut() int {
	if o.TokensOut != 0 {
		return o.TokensOut
	}
	return o.OutputTokens
}

func (o *cliOutput) cost() float64 {
	if o.Cost != 0 {
		return o.Cost
	}
	return o.CostUSD
}

// parseOutput extracts the JSON document from CLI stdout, tolerating leading
// or trailing non-JSON noise.
func parseOutput(data []byte) (*cliOutput, error) {
	data = bytes.TrimSpace(data)

	var out cliOutput
	if err := json.Unmarshal(data, &out); err != nil {
		start := bytes.Index(data, []byte("{"))
		end := bytes.LastIndex(data, []byte("}"))
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no json found in output")
		}
		if err := json.Unmarshal(data[start:end+1], &out); err != nil {
			return nil, fmt.Errorf("parse json output: %w", err)
		}
	}

	return &out, nil
}

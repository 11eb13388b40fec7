package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taskpilot/taskpilot/models"
)

var (
	// ErrBackendNotFound is returned when a backend ID is not in the registry
	ErrBackendNotFound = errors.New("backend not found")

	// ErrExecutorNotFound is returned when a backend has no executor attached
	ErrExecutorNotFound = errors.New("executor not registered for backend")

	// ErrExecutorAlreadyRegistered is returned when attaching a duplicate executor
	ErrExecutorAlreadyRegistered = errors.New("executor already registered")
)

// File is the on-disk registry definition. The registry is loaded once at
// startup and never mutated afterwards.
type File struct {
	// DefaultBackend receives tasks that match nothing and exclude nothing
	DefaultBackend string `yaml:"default_backend"`

	// SecondaryOrder is the fixed fallback tail appended after the scorer's
	// alternates. Empty means cost-ascending over all backends.
	SecondaryOrder []string `yaml:"secondary_order"`

	// RequiresPrimary are patterns for tasks that must not run during
	// fallback (stateful memory access, external messaging).
	RequiresPrimary []string `yaml:"requires_primary"`

	Backends []models.BackendSpec `yaml:"backends"`
}

// LoadFile reads a registry definition from a YAML file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry file: %w", err)
	}

	return &f, nil
}

// DefaultFile returns the built-in registry: a premium reasoning API, a free
// local agent CLI, and a low-latency inference API. Declaration order matters;
// it breaks scoring ties.
func DefaultFile() *File {
	return &File{
		DefaultBackend: "inference",
		RequiresPrimary: []string{
			`\bmemor(y|ies)\b`,
			`\bremember\b`,
			`(send|post|publish)\b.*\b(message|email|slack|discord|dm)`,
			`\bnotif(y|ication)`,
		},
		Backends: []models.BackendSpec{
			{
				ID:              "reasoning",
				DisplayName:     "Premium Reasoning API",
				InputCostPer1K:  3.0,
				OutputCostPer1K: 15.0,
				Strengths:       []string{"deep analysis", "security review", "architecture", "hard debugging"},
				Weaknesses:      []string{"cost", "latency"},
				ContextWindow:   200000,
				Speed:           models.SpeedSlow,
				Quality:         models.QualityHighest,
				Patterns: []string{
					`security (audit|review)`,
					`threat model`,
					`architect`,
					`design doc`,
					`complex (bug|debug)`,
					`race condition`,
					`deadlock`,
					`algorithm`,
					`code review`,
					`performance analysis`,
					`refactor(ing)? plan`,
				},
			},
			{
				ID:              "agentcli",
				DisplayName:     "Local Agent CLI",
				InputCostPer1K:  0,
				OutputCostPer1K: 0,
				Strengths:       []string{"UI generation", "scaffolding", "repo-wide edits", "scripting", "free"},
				Weaknesses:      []string{"no network tools", "medium latency"},
				ContextWindow:   128000,
				Speed:           models.SpeedMedium,
				Quality:         models.QualityHigh,
				Patterns: []string{
					`\breact\b`,
					`\bui\b`,
					`frontend`,
					`component`,
					`dashboard`,
					`\bcss\b`,
					`\bhtml\b`,
					`scaffold`,
					`boilerplate`,
					`browser automation`,
					`repo.?wide`,
					`bulk (edit|rename)`,
					`\bscript\b`,
				},
			},
			{
				ID:              "inference",
				DisplayName:     "Fast Inference API",
				InputCostPer1K:  0.05,
				OutputCostPer1K: 0.08,
				Strengths:       []string{"latency", "summaries", "classification", "cheap"},
				Weaknesses:      []string{"small context", "shallow reasoning"},
				ContextWindow:   131072,
				Speed:           models.SpeedFastest,
				Quality:         models.QualityGood,
				Patterns: []string{
					`summar`,
					`classif`,
					`extract`,
					`translat`,
					`\blist\b`,
					`quick`,
					`short answer`,
					`explain briefly`,
					`one.?liner`,
				},
			},
		},
	}
}

// Registry holds the immutable backend specs plus the executors attached to
// them. Specs come from the registry file; executors are wired in at startup
// by the dependency container.
type Registry struct {
	mu        sync.RWMutex
	specs     []models.BackendSpec
	byID      map[string]models.BackendSpec
	executors map[string]Backend

	defaultBackend  string
	secondaryOrder  []string
	requiresPrimary []string
}

// NewRegistry validates a registry file and builds the registry from it
func NewRegistry(f *File) (*Registry, error) {
	if f == nil {
		f = DefaultFile()
	}
	if len(f.Backends) == 0 {
		return nil, errors.New("registry requires at least one backend")
	}

	byID := make(map[string]models.BackendSpec, len(f.Backends))
	for _, spec := range f.Backends {
		if spec.ID == "" {
			return nil, errors.New("backend ID cannot be empty")
		}
		if _, dup := byID[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate backend ID %q", spec.ID)
		}
		if !spec.Speed.Valid() {
			return nil, fmt.Errorf("backend %q: unknown speed class %q", spec.ID, spec.Speed)
		}
		if !spec.Quality.Valid() {
			return nil, fmt.Errorf("backend %q: unknown quality class %q", spec.ID, spec.Quality)
		}
		if spec.ContextWindow <= 0 {
			return nil, fmt.Errorf("backend %q: context window must be positive", spec.ID)
		}
		if spec.InputCostPer1K < 0 || spec.OutputCostPer1K < 0 {
			return nil, fmt.Errorf("backend %q: costs cannot be negative", spec.ID)
		}
		for _, p := range spec.Patterns {
			if _, err := regexp.Compile("(?i)" + p); err != nil {
				return nil, fmt.Errorf("backend %q: invalid pattern %q: %w", spec.ID, p, err)
			}
		}
		byID[spec.ID] = spec
	}

	if f.DefaultBackend == "" {
		return nil, errors.New("registry requires a default backend")
	}
	if _, ok := byID[f.DefaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q is not declared", f.DefaultBackend)
	}

	secondary := f.SecondaryOrder
	if len(secondary) == 0 {
		secondary = costAscendingOrder(f.Backends)
	} else {
		seen := make(map[string]bool, len(secondary))
		for _, id := range secondary {
			if _, ok := byID[id]; !ok {
				return nil, fmt.Errorf("secondary order references unknown backend %q", id)
			}
			if seen[id] {
				return nil, fmt.Errorf("secondary order repeats backend %q", id)
			}
			seen[id] = true
		}
	}

	for _, p := range f.RequiresPrimary {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return nil, fmt.Errorf("invalid requires_primary pattern %q: %w", p, err)
		}
	}

	specs := make([]models.BackendSpec, len(f.Backends))
	copy(specs, f.Backends)

	return &Registry{
		specs:           specs,
		byID:            byID,
		executors:       make(map[string]Backend),
		defaultBackend:  f.DefaultBackend,
		secondaryOrder:  append([]string(nil), secondary...),
		requiresPrimary: append([]string(nil), f.RequiresPrimary...),
	}, nil
}

// costAscendingOrder sorts backend IDs by average per-1K cost, cheapest
// first, with declaration order breaking ties.
func costAscendingOrder(specs []models.BackendSpec) []string {
	idx := make([]int, len(specs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return specs[idx[a]].AverageCostPer1K() < specs[idx[b]].AverageCostPer1K()
	})

	order := make([]string, len(specs))
	for i, j := range idx {
		order[i] = specs[j].ID
	}
	return order
}

// RegisterExecutor attaches an executor to its declared backend spec
func (r *Registry) RegisterExecutor(b Backend) error {
	if b == nil {
		return errors.New("executor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := b.ID()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	if _, dup := r.executors[id]; dup {
		return fmt.Errorf("%w: %s", ErrExecutorAlreadyRegistered, id)
	}

	r.executors[id] = b
	return nil
}

// Executor retrieves the executor for a backend ID
func (r *Registry) Executor(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.executors[id]
	if !ok {
		if _, declared := r.byID[id]; !declared {
			return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrExecutorNotFound, id)
	}
	return b, nil
}

// Spec retrieves the spec for a backend ID
func (r *Registry) Spec(id string) (models.BackendSpec, error) {
	spec, ok := r.byID[id]
	if !ok {
		return models.BackendSpec{}, fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	return spec, nil
}

// Has reports whether a backend ID is declared
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Specs returns all backend specs in declaration order
func (r *Registry) Specs() []models.BackendSpec {
	out := make([]models.BackendSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// IDs returns all backend IDs in declaration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.specs))
	for i, spec := range r.specs {
		ids[i] = spec.ID
	}
	return ids
}

// Count returns the number of declared backends
func (r *Registry) Count() int {
	return len(r.specs)
}

// DefaultBackend returns the designated balanced default backend ID
func (r *Registry) DefaultBackend() string {
	return r.defaultBackend
}

// SecondaryOrder returns the fixed fallback tail, cheapest first unless the
// registry file configured an explicit order.
func (r *Registry) SecondaryOrder() []string {
	return append([]string(nil), r.secondaryOrder...)
}

// RequiresPrimary returns the patterns that block tasks during fallback
func (r *Registry) RequiresPrimary() []string {
	return append([]string(nil), r.requiresPrimary...)
}

// Availability probes every declared backend. Backends without an attached
// executor read as unavailable.
func (r *Registry) Availability(ctx context.Context) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.specs))
	for _, spec := range r.specs {
		b, ok := r.executors[spec.ID]
		out[spec.ID] = ok && b.IsAvailable(ctx)
	}
	return out
}

package backends

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot/taskpilot/models"
)

func TestDefaultFile(t *testing.T) {
	f := DefaultFile()

	require.Len(t, f.Backends, 3)
	assert.Equal(t, "reasoning", f.Backends[0].ID)
	assert.Equal(t, "agentcli", f.Backends[1].ID)
	assert.Equal(t, "inference", f.Backends[2].ID)
	assert.Equal(t, "inference", f.DefaultBackend)
	assert.NotEmpty(t, f.RequiresPrimary)
}

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, []string{"reasoning", "agentcli", "inference"}, reg.IDs())
	assert.Equal(t, "inference", reg.DefaultBackend())
	assert.True(t, reg.Has("agentcli"))
	assert.False(t, reg.Has("imaginary"))
}

func TestNewRegistry_SecondaryOrderCostAscending(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	// agentcli is free, inference is cheap, reasoning is expensive
	assert.Equal(t, []string{"agentcli", "inference", "reasoning"}, reg.SecondaryOrder())
}

func TestNewRegistry_ExplicitSecondaryOrder(t *testing.T) {
	f := DefaultFile()
	f.SecondaryOrder = []string{"inference", "agentcli"}

	reg, err := NewRegistry(f)
	require.NoError(t, err)

	assert.Equal(t, []string{"inference", "agentcli"}, reg.SecondaryOrder())
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		wantErr string
	}{
		{
			name:    "no backends",
			mutate:  func(f *File) { f.Backends = nil },
			wantErr: "at least one backend",
		},
		{
			name:    "empty ID",
			mutate:  func(f *File) { f.Backends[0].ID = "" },
			wantErr: "ID cannot be empty",
		},
		{
			name:    "duplicate ID",
			mutate:  func(f *File) { f.Backends[1].ID = f.Backends[0].ID },
			wantErr: "duplicate backend ID",
		},
		{
			name:    "bad speed class",
			mutate:  func(f *File) { f.Backends[0].Speed = "warp" },
			wantErr: "unknown speed class",
		},
		{
			name:    "bad quality class",
			mutate:  func(f *File) { f.Backends[0].Quality = "meh" },
			wantErr: "unknown quality class",
		},
		{
			name:    "zero context window",
			mutate:  func(f *File) { f.Backends[0].ContextWindow = 0 },
			wantErr: "context window",
		},
		{
			name:    "negative cost",
			mutate:  func(f *File) { f.Backends[0].InputCostPer1K = -1 },
			wantErr: "costs cannot be negative",
		},
		{
			name:    "bad pattern",
			mutate:  func(f *File) { f.Backends[0].Patterns = []string{"("} },
			wantErr: "invalid pattern",
		},
		{
			name:    "missing default backend",
			mutate:  func(f *File) { f.DefaultBackend = "" },
			wantErr: "default backend",
		},
		{
			name:    "unknown default backend",
			mutate:  func(f *File) { f.DefaultBackend = "imaginary" },
			wantErr: "not declared",
		},
		{
			name:    "unknown secondary entry",
			mutate:  func(f *File) { f.SecondaryOrder = []string{"imaginary"} },
			wantErr: "unknown backend",
		},
		{
			name:    "repeated secondary entry",
			mutate:  func(f *File) { f.SecondaryOrder = []string{"inference", "inference"} },
			wantErr: "repeats backend",
		},
		{
			name:    "bad requires_primary pattern",
			mutate:  func(f *File) { f.RequiresPrimary = []string{"("} },
			wantErr: "requires_primary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := DefaultFile()
			tt.mutate(f)

			_, err := NewRegistry(f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_Spec(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	spec, err := reg.Spec("reasoning")
	require.NoError(t, err)
	assert.Equal(t, models.QualityHighest, spec.Quality)
	assert.Equal(t, models.SpeedSlow, spec.Speed)

	_, err = reg.Spec("imaginary")
	assert.ErrorIs(t, err, ErrBackendNotFound)
}

func TestRegistry_RegisterExecutor(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	t.Run("nil executor", func(t *testing.T) {
		assert.Error(t, reg.RegisterExecutor(nil))
	})

	t.Run("undeclared backend", func(t *testing.T) {
		err := reg.RegisterExecutor(NewMockBackend("imaginary"))
		assert.ErrorIs(t, err, ErrBackendNotFound)
	})

	t.Run("register and fetch", func(t *testing.T) {
		mock := NewMockBackend("inference")
		require.NoError(t, reg.RegisterExecutor(mock))

		got, err := reg.Executor("inference")
		require.NoError(t, err)
		assert.Equal(t, "inference", got.ID())
	})

	t.Run("duplicate", func(t *testing.T) {
		err := reg.RegisterExecutor(NewMockBackend("inference"))
		assert.ErrorIs(t, err, ErrExecutorAlreadyRegistered)
	})

	t.Run("declared but unattached", func(t *testing.T) {
		_, err := reg.Executor("reasoning")
		assert.ErrorIs(t, err, ErrExecutorNotFound)
	})
}

func TestRegistry_Availability(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	up := NewMockBackend("inference")
	down := NewMockBackend("agentcli")
	down.SetAvailable(false)

	require.NoError(t, reg.RegisterExecutor(up))
	require.NoError(t, reg.RegisterExecutor(down))

	avail := reg.Availability(context.Background())

	assert.True(t, avail["inference"])
	assert.False(t, avail["agentcli"])
	// No executor attached reads as unavailable
	assert.False(t, avail["reasoning"])
}

func TestRegistry_SpecsReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	specs := reg.Specs()
	specs[0].ID = "mutated"

	assert.Equal(t, "reasoning", reg.IDs()[0])
}

func TestLoadFile(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		yamlDoc := `
default_backend: fast
requires_primary:
  - '\bmemory\b'
backends:
  - id: fast
    display_name: Fast Backend
    input_cost_per_1k: 0.1
    output_cost_per_1k: 0.2
    context_window: 8192
    speed: fastest
    quality: good
    patterns:
      - summar
  - id: smart
    display_name: Smart Backend
    input_cost_per_1k: 3.0
    output_cost_per_1k: 15.0
    context_window: 200000
    speed: slow
    quality: highest
    strengths:
      - analysis
    patterns:
      - architect
`
		path := filepath.Join(t.TempDir(), "registry.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

		f, err := LoadFile(path)
		require.NoError(t, err)

		reg, err := NewRegistry(f)
		require.NoError(t, err)

		assert.Equal(t, []string{"fast", "smart"}, reg.IDs())
		assert.Equal(t, "fast", reg.DefaultBackend())
		assert.Equal(t, []string{"fast", "smart"}, reg.SecondaryOrder())

		spec, err := reg.Spec("smart")
		require.NoError(t, err)
		assert.Equal(t, models.SpeedSlow, spec.Speed)
		assert.Equal(t, []string{"analysis"}, spec.Strengths)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backends: {"), 0o644))

		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

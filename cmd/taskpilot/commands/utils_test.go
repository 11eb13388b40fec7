package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot/taskpilot/models"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short string untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"long string clipped", "hello world", 8, "hello..."},
		{"tiny max keeps prefix", "hello", 2, "he"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.maxLen))
		})
	}
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "-", formatCost(0))
	assert.Equal(t, "$0.1235", formatCost(0.12345))
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	err := printJSON(&out, models.Preferences{PreferSpeed: true})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"prefer_speed": true`)
}

func TestBuildTaskRequest(t *testing.T) {
	t.Cleanup(resetDispatchFlags)

	t.Run("joins args into a description", func(t *testing.T) {
		resetDispatchFlags()
		req, err := buildTaskRequest([]string{"summarize", "the", "logs"})
		require.NoError(t, err)
		assert.Equal(t, "summarize the logs", req.Description)
		assert.Equal(t, models.ModeChat, req.Mode)
	})

	t.Run("rejects blank descriptions", func(t *testing.T) {
		resetDispatchFlags()
		_, err := buildTaskRequest([]string{"   "})
		require.Error(t, err)
	})

	t.Run("carries preferences and force", func(t *testing.T) {
		resetDispatchFlags()
		dispatchPreferCost = true
		dispatchForce = "inference"
		req, err := buildTaskRequest([]string{"quick check"})
		require.NoError(t, err)
		assert.True(t, req.Preferences.PreferCost)
		assert.Equal(t, "inference", req.Preferences.ForceBackend)
	})

	t.Run("missing context file fails", func(t *testing.T) {
		resetDispatchFlags()
		dispatchContextFile = "/nonexistent/ctx.md"
		_, err := buildTaskRequest([]string{"task"})
		require.Error(t, err)
	})
}

func resetDispatchFlags() {
	dispatchMode = "chat"
	dispatchPreferCost = false
	dispatchPreferSpeed = false
	dispatchPreferQuality = false
	dispatchForce = ""
	dispatchTimeout = 0
	dispatchContextFile = ""
	dispatchJSON = false
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CRM_TRANSPORT", "")
	t.Setenv("CRM_APPLY_POLICY", "")
	cfg := FromEnv()

	assert.Equal(t, TransportNATS, cfg.Transport)
	assert.Equal(t, "patch", cfg.ApplyPolicy)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3*time.Second, cfg.HighlightFor)
	assert.Equal(t, 5*time.Minute, cfg.CalendarTimeout)
	require.NoError(t, cfg.Validate())
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CRM_TRANSPORT", "websocket")
	t.Setenv("CRM_WORKSPACE", "from-env")
	cfg := FromEnv()

	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cfg.BindFlags(cmd)
	cmd.SetArgs([]string{"--workspace", "from-flag", "--apply-policy", "refetch"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, "from-flag", cfg.Workspace)
	assert.Equal(t, "refetch", cfg.ApplyPolicy)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := FromEnv()
	cfg.Transport = "carrier-pigeon"
	cfg.ApplyPolicy = "merge"
	cfg.Workspace = " "
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"carrier-pigeon", "merge", "workspace", "loud"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.env")
	require.NoError(t, os.WriteFile(path, []byte("CRM_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CRM_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("CRM_TEST_DOTENV"))
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogJSON: true}
	log := cfg.Logger(&buf)

	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"component":"test"`)
}

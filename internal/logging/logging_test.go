package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestFanout_RespectsEachLevel(t *testing.T) {
	var verbose, quiet bytes.Buffer
	h := NewFanout(
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Debug("debug line")
	logger.Warn("warn line")

	assert.Contains(t, verbose.String(), "debug line")
	assert.Contains(t, verbose.String(), "warn line")
	assert.NotContains(t, quiet.String(), "debug line")
	assert.Contains(t, quiet.String(), "warn line")
	assert.Contains(t, quiet.String(), "component=test")
}

func TestFanout_DisabledWhenNoHandlerAccepts(t *testing.T) {
	h := NewFanout(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	assert.False(t, h.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, h.Enabled(t.Context(), slog.LevelError))
}

func TestSetup_WritesJSONFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "warden.log")
	closer := Setup(Config{Level: "info", File: path})

	slog.Info("Bot connected", "username", "warden_bot")
	slog.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "Bot connected", rec["msg"])
	assert.Equal(t, "warden_bot", rec["username"])
}

func TestSetup_NoFileSink(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	closer := Setup(Config{Debug: true})
	assert.NoError(t, closer.Close())
	_, isFanout := slog.Default().Handler().(*Fanout)
	assert.False(t, isFanout)
}

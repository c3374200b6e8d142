package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleShowsInfoAndFileKeepsDebug(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "bot.log")
	log := New(Options{
		Level:        "debug",
		ConsoleLevel: "info",
		File:         path,
		MaxSizeMB:    1,
		MaxBackups:   1,
		Console:      &console,
	})

	log.Debug().Msg("rules loaded")
	log.Info().Str("order_id", "42").Msg("Market Order OK | OrderId 42")
	require.NoError(t, log.Close())

	out := console.String()
	assert.Contains(t, out, "Market Order OK | OrderId 42")
	assert.NotContains(t, out, "rules loaded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "debug", rec["level"])
	assert.Equal(t, "rules loaded", rec["message"])
	assert.NotEmpty(t, rec["time"])
}

func TestNoFileSinkWhenPathEmpty(t *testing.T) {
	var console bytes.Buffer
	log := New(Options{Console: &console})
	log.Warn().Msg("exchange info unavailable")
	assert.NoError(t, log.Close())
	assert.Contains(t, console.String(), "exchange info unavailable")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING", zerolog.InfoLevel))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud", zerolog.InfoLevel))
}

func TestConsolePrintsMessageOnly(t *testing.T) {
	var console bytes.Buffer
	log := New(Options{Console: &console})
	sub := log.Component("trader")
	sub.Info().Str("symbol", "BTCUSDT").Str("qty", "0.01").Msg("Market Order OK | OrderId 42")
	sub.Error().Err(errors.New("boom")).Msg("place failed")
	assert.Equal(t, "Market Order OK | OrderId 42\nplace failed\n", console.String())
}

func TestComponentAddsField(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "bot.log")
	log := New(Options{Console: &console, File: path, MaxSizeMB: 1})
	sub := log.Component("trader")
	sub.Info().Msg("hello")
	require.NoError(t, log.Close())

	assert.Equal(t, "hello\n", console.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "trader", rec["component"])
	assert.Equal(t, "hello", rec["message"])
}

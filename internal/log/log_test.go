package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONWithComponent(t *testing.T) {
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	var buf bytes.Buffer
	Init(Config{Level: "debug", JSONOutput: true, Output: &buf})

	l := WithComponent("booking")
	l.Debug().Int64("event_id", 3).Msg("booking committed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "booking", entry["component"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "booking committed", entry["message"])
	assert.EqualValues(t, 3, entry["event_id"])
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	var buf bytes.Buffer
	Init(Config{Level: "loud", JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	Logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

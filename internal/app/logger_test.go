package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONCarriesServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})

	logger.Info("dropped")
	logger.Warn("kept", "order_id", "WO-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "odyssey-wms", record["service"])
	require.Equal(t, "staging", record["env"])
	require.Equal(t, "WO-1", record["order_id"])
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	require.Equal(t, "INFO", parseLevel("verbose").String())
	require.Equal(t, "DEBUG", parseLevel(" Debug ").String())
}

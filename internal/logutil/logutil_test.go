package logutil

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown k=v")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "DEBUG", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("frame", "type", "nop")
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "frame", record["msg"])
	assert.Equal(t, "DEBUG", record["level"])
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "logging.level")
	_, err = New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "logging.format")
}

func TestConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("logging.level", "error")
	viper.Set("logging.format", "json")
	viper.Set("logging.add_source", true)

	assert.Equal(t, Config{Level: "error", Format: "json", AddSource: true}, ConfigFromViper())
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Out: &buf})
	t.Cleanup(func() { Init(Options{}) })

	WithFields(logrus.Fields{"request_id": "r-1"}).Info("approved")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "approved", line["msg"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, "info", line["level"])
}

func TestInitDebugText(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Debug: true, Out: &buf})
	t.Cleanup(func() { Init(Options{}) })

	Log().Debug("quorum check")
	assert.Contains(t, buf.String(), "quorum check")
	assert.Contains(t, buf.String(), "level=debug")
}

func TestInitWithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "torvus.log")
	Init(Options{Out: &buf, File: path})
	t.Cleanup(func() { Init(Options{}) })

	Log().Warn("rotated")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated")
	assert.Contains(t, buf.String(), "rotated")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TORVUS_LOG_LEVEL", "DEBUG")
	t.Setenv("TORVUS_LOG_FILE", "/var/log/torvus.log")

	opts := FromEnv()
	assert.True(t, opts.Debug)
	assert.Equal(t, "/var/log/torvus.log", opts.File)
}

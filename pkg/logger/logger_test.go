package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithOutput("warn", "json", &buf))
	t.Cleanup(func() { log = nil })

	Infof("dropped %d", 1)
	WithFields(logrus.Fields{"request_id": "r1"}).Warn("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "r1", line["request_id"])
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, InitWithOutput("verbose", "text", &bytes.Buffer{}))
}

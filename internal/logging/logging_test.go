package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestNew_WritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.Info("Instance launched", "instance", "i-123")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "Instance launched")
	assert.Contains(t, out, "i-123")
	assert.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, log.WarnLevel, parseLevel("warning"))
	assert.Equal(t, log.ErrorLevel, parseLevel("error"))
	assert.Equal(t, log.InfoLevel, parseLevel(""))
	assert.Equal(t, log.InfoLevel, parseLevel("verbose"))
}

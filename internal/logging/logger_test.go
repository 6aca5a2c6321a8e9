package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, false, true)

	l.Info("hello", "world")
	assert.Contains(t, buf.String(), "[INFO]")
	buf.Reset()

	l.Infof("%s-%s", "a", "b")
	assert.Contains(t, buf.String(), "[INFO]")
	assert.Contains(t, buf.String(), "a-b")
	buf.Reset()

	l.Warn("careful")
	assert.Contains(t, buf.String(), "[WARN]")
	buf.Reset()

	l.Error("boom")
	assert.Contains(t, buf.String(), "[ERROR]")
	buf.Reset()

	l.Debug("trace")
	assert.Contains(t, buf.String(), "[DEBUG]")
	buf.Reset()
}

func TestDefaultLoggerQuietSuppressesInfoNotErrors(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, true, false)

	l.Info("should not appear")
	assert.Empty(t, buf.String())

	l.Debug("should not appear either")
	assert.Empty(t, buf.String())

	l.Error("should appear")
	assert.Contains(t, buf.String(), "[ERROR]")
}

package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel("info")
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("DEBUG"))
	assert.True(t, ValidLevel(" warning "))
	assert.False(t, ValidLevel("verbose"))
}

func TestLLMLogSections(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	EnableLLMPayloadDump(true)
	t.Cleanup(func() {
		SetLLMWriter(nil)
		EnableLLMPayloadDump(false)
	})

	LogLLMRequest("specialist", "claude_cli", "technical", "sys", "usr", "payload-body")
	LogLLMResponse("specialist", "claude_cli", "technical", "{}", 1500*time.Millisecond, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "[LLM][specialist-request][claude_cli][technical]")
	assert.Contains(t, out, "--- PAYLOAD ---\npayload-body")
	assert.Contains(t, out, "[LLM][specialist-response][claude_cli][technical]")
	assert.Contains(t, out, "--- ERROR ---\nboom")
	assert.Equal(t, 2, strings.Count(out, "====="))
}

package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_BasicError(t *testing.T) {
	err := New(CodeStorageCorrupt, "chunk header checksum mismatch", nil)

	result := FormatForCLI(err)

	assert.Contains(t, result, "chunk header checksum mismatch")
	assert.Contains(t, result, "ERR_SVC_STORAGE_CORRUPT")
	assert.Contains(t, result, "SERVICE")
}

func TestFormatForCLI_WithCause(t *testing.T) {
	cause := errors.New("disk read error")
	err := New(CodeStorageIO, "failed to read chunk", cause)

	result := FormatForCLI(err)

	assert.Contains(t, result, "failed to read chunk")
	assert.Contains(t, result, "disk read error")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	err := errors.New("something went wrong")

	result := FormatForCLI(err)

	assert.Contains(t, result, "something went wrong")
}

func TestFormatForCLI_NilError(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForCLI_ShortFormat(t *testing.T) {
	err := New(CodeFieldNotIndexed, "field not indexed", nil)

	result := FormatForCLI(err)

	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5, "should be concise")
}

func TestFormatJSON_BasicError(t *testing.T) {
	err := New(CodeInvalidOffset, "offset out of range", nil).
		WithDetail("offset", "4096")

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, CodeInvalidOffset, result["code"])
	assert.Equal(t, "offset out of range", result["message"])
	assert.Equal(t, string(KindArguments), result["kind"])
	assert.Equal(t, false, result["retryable"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "4096", details["offset"])
}

func TestFormatJSON_StandardError(t *testing.T) {
	err := errors.New("generic error")

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, CodeStorageIO, result["code"])
	assert.Equal(t, "generic error", result["message"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatJSON_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(CodeStorageIO, "operation failed", cause)

	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "underlying error", result["cause"])
}

func TestFormatForLog_BasicError(t *testing.T) {
	err := New(CodeLockHeld, "segment directory locked", nil).
		WithDetail("path", "/data/seg-1")

	result := FormatForLog(err)

	assert.Equal(t, CodeLockHeld, result["error_code"])
	assert.Equal(t, "segment directory locked", result["message"])
	assert.Equal(t, string(KindService), result["kind"])
	assert.Equal(t, true, result["retryable"])
	assert.Equal(t, "/data/seg-1", result["detail_path"])
}

func TestFormatForLog_StandardError(t *testing.T) {
	err := errors.New("plain error")

	result := FormatForLog(err)

	assert.Equal(t, "plain error", result["error"])
}

func TestFormatForLog_NilError(t *testing.T) {
	assert.Nil(t, FormatForLog(nil))
}

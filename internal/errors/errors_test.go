package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	segErr := New(CodeStorageIO, "storage read failed", originalErr)

	require.NotNil(t, segErr)
	assert.Equal(t, originalErr, errors.Unwrap(segErr))
	assert.True(t, errors.Is(segErr, originalErr))
}

func TestSegmentError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "arguments error",
			code:     CodeDimensionMismatch,
			message:  "vector has 128 dims, expected 256",
			expected: "[ERR_ARG_DIMENSION_MISMATCH] vector has 128 dims, expected 256",
		},
		{
			name:     "service error",
			code:     CodeStorageCorrupt,
			message:  "chunk header checksum mismatch",
			expected: "[ERR_SVC_STORAGE_CORRUPT] chunk header checksum mismatch",
		},
		{
			name:     "cancelled",
			code:     CodeOperationCancelled,
			message:  "operation cancelled",
			expected: "[ERR_CANCELLED] operation cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestSegmentError_Is_MatchesByCode(t *testing.T) {
	err1 := New(CodeDimensionMismatch, "vector A mismatch", nil)
	err2 := New(CodeDimensionMismatch, "vector B mismatch", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestSegmentError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(CodeDimensionMismatch, "dimension mismatch", nil)
	err2 := New(CodeStorageCorrupt, "storage corrupt", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestSegmentError_WithDetail_AddsContext(t *testing.T) {
	err := New(CodeInvalidOffset, "offset out of range", nil)

	err = err.WithDetail("offset", "4096")
	err = err.WithDetail("len", "1024")

	assert.Equal(t, "4096", err.Details["offset"])
	assert.Equal(t, "1024", err.Details["len"])
}

func TestKindFromCode(t *testing.T) {
	tests := []struct {
		code     string
		wantKind Kind
	}{
		{CodeDimensionMismatch, KindArguments},
		{CodeCountMismatch, KindArguments},
		{CodeInvalidOffset, KindArguments},
		{CodeSparseInsert, KindArguments},
		{CodeInvalidCondition, KindArguments},
		{CodeInvalidConfig, KindArguments},
		{CodeStorageIO, KindService},
		{CodeStorageCorrupt, KindService},
		{CodeBackendAbsent, KindService},
		{CodeMmapFailure, KindService},
		{CodeLockHeld, KindService},
		{CodeOperationCancelled, KindCancelled},
		{CodeFieldNotIndexed, KindNotIndexed},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantKind, err.Kind)
		})
	}
}

func TestRetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{CodeLockHeld, true},
		{CodeStorageIO, false},
		{CodeDimensionMismatch, false},
		{CodeOperationCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesSegmentErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	segErr := Wrap(CodeStorageIO, originalErr)

	require.NotNil(t, segErr)
	assert.Equal(t, CodeStorageIO, segErr.Code)
	assert.Equal(t, "something went wrong", segErr.Message)
	assert.Equal(t, originalErr, segErr.Cause)
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(CodeStorageIO, nil))
}

func TestArguments_CreatesArgumentsKindError(t *testing.T) {
	err := Arguments(CodeInvalidCondition, `unknown condition kind "fuzzy"`)

	assert.Equal(t, KindArguments, err.Kind)
	assert.False(t, err.Retryable)
	assert.Nil(t, err.Cause)
}

func TestService_CreatesServiceKindError(t *testing.T) {
	cause := errors.New("disk read error")
	err := Service(CodeStorageIO, "failed to read chunk", cause)

	assert.Equal(t, KindService, err.Kind)
	assert.Equal(t, cause, err.Cause)
}

func TestCancelled_CreatesCancelledKindError(t *testing.T) {
	err := Cancelled()

	assert.Equal(t, KindCancelled, err.Kind)
	assert.Equal(t, CodeOperationCancelled, err.Code)
}

func TestNotIndexed_CreatesNotIndexedKindError(t *testing.T) {
	err := NotIndexed("category")

	assert.Equal(t, KindNotIndexed, err.Kind)
	assert.Contains(t, err.Message, "category")
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(Arguments(CodeInvalidCondition, "bad condition"), KindArguments))
	assert.False(t, IsKind(Arguments(CodeInvalidCondition, "bad condition"), KindService))
	assert.False(t, IsKind(errors.New("plain error"), KindArguments))
	assert.False(t, IsKind(nil, KindArguments))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled()))
	assert.False(t, IsCancelled(Arguments(CodeInvalidCondition, "bad condition")))
	assert.False(t, IsCancelled(errors.New("plain error")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable segment error",
			err:      New(CodeLockHeld, "directory locked", nil),
			expected: true,
		},
		{
			name:     "non-retryable segment error",
			err:      New(CodeStorageIO, "read failed", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(CodeLockHeld, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestCode_ExtractsCodeFromSegmentError(t *testing.T) {
	assert.Equal(t, CodeStorageCorrupt, Code(New(CodeStorageCorrupt, "corrupt", nil)))
	assert.Equal(t, "", Code(errors.New("plain error")))
	assert.Equal(t, "", Code(nil))
}

package errors

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var errorJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatForCLI formats an error for CLI output. Uses a concise format
// suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SegmentError)
	if !ok {
		se = Wrap(CodeStorageIO, err)
	}

	msg := fmt.Sprintf("error: %s\n  code: %s\n  kind: %s\n", se.Message, se.Code, se.Kind)
	if se.Cause != nil {
		msg += fmt.Sprintf("  cause: %s\n", se.Cause.Error())
	}
	return msg
}

// jsonError is the JSON representation of a SegmentError.
type jsonError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Kind      string            `json:"kind"`
	Details   map[string]string `json:"details,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, suitable for
// machine consumption and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return errorJSON.Marshal(nil)
	}

	se, ok := err.(*SegmentError)
	if !ok {
		se = Wrap(CodeStorageIO, err)
	}

	je := jsonError{
		Code:      se.Code,
		Message:   se.Message,
		Kind:      string(se.Kind),
		Details:   se.Details,
		Retryable: se.Retryable,
	}
	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}

	return errorJSON.Marshal(je)
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	se, ok := err.(*SegmentError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": se.Code,
		"message":    se.Message,
		"kind":       string(se.Kind),
		"retryable":  se.Retryable,
	}
	if se.Cause != nil {
		result["cause"] = se.Cause.Error()
	}
	for k, v := range se.Details {
		result["detail_"+k] = v
	}
	return result
}

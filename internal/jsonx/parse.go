package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseWithFallback decodes raw JSON into T
// Returns fallback and the parse error if raw is malformed
// Empty input is not an error: caller gets fallback and nil
func ParseWithFallback[T any](raw string, fallback T) (T, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fallback, fmt.Errorf("malformed json: %w", err)
	}

	return value, nil
}

// Marshal value to string, the counterpart of ParseWithFallback
func MarshalString(value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("json encode error: %w", err)
	}
	return string(b), nil
}

package jsonx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWithFallback(t *testing.T) {
	type profile struct {
		Name string `json:"name"`
	}
	fallback := &profile{Name: "fallback"}

	t.Run("valid json", func(t *testing.T) {
		got, err := ParseWithFallback(`{"name": "nk"}`, fallback)

		require.NoError(t, err)
		require.Equal(t, "nk", got.Name)
	})

	t.Run("empty input gives fallback without error", func(t *testing.T) {
		got, err := ParseWithFallback("  ", fallback)

		require.NoError(t, err)
		require.Same(t, fallback, got)
	})

	t.Run("malformed input gives fallback and error", func(t *testing.T) {
		got, err := ParseWithFallback(`{"name":`, fallback)

		require.Error(t, err, "parse error must be signalled")
		require.Same(t, fallback, got)
	})

	t.Run("slice fallback", func(t *testing.T) {
		got, err := ParseWithFallback(`[1, "two"]`, []int{})

		require.Error(t, err)
		require.Empty(t, got)
	})
}

func TestMarshalString(t *testing.T) {
	s, err := MarshalString(map[string]int{"a": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"a": 1}`, s)

	_, err = MarshalString(make(chan int))
	require.Error(t, err, "channels cannot be encoded")
}

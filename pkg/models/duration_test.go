package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"45s", 45 * time.Second},
		{"2h30m", 2*time.Hour + 30*time.Minute},
		{"3d", 72 * time.Hour},
		{"1d12h", 36 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Std())
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, input := range []string{"", "soon", "d", "1w"} {
		_, err := ParseDuration(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Run("milliseconds number", func(t *testing.T) {
		var d Duration

		require.NoError(t, json.Unmarshal([]byte(`90000`), &d))
		assert.Equal(t, 90*time.Second, d.Std())
	})

	t.Run("duration string", func(t *testing.T) {
		var d Duration

		require.NoError(t, json.Unmarshal([]byte(`"2d"`), &d))
		assert.Equal(t, 48*time.Hour, d.Std())
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var d Duration

		assert.Error(t, json.Unmarshal([]byte(`{"seconds": 5}`), &d))
	})
}

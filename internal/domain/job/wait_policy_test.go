package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWaitPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewWaitPolicy(25*time.Second, 30*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, policy.Max())
	})

	t.Run("invalid max", func(t *testing.T) {
		policy, err := NewWaitPolicy(time.Second, 0)
		require.ErrorIs(t, err, ErrInvalidMaxWait)
		assert.Nil(t, policy)
	})

	t.Run("default capped at max", func(t *testing.T) {
		policy, err := NewWaitPolicy(time.Minute, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, policy.Resolve(-1).Wait)
	})
}

func TestWaitPolicy_Resolve(t *testing.T) {
	policy, err := NewWaitPolicy(25*time.Second, 30*time.Second)
	require.NoError(t, err)

	tests := []struct {
		name    string
		request time.Duration
		want    time.Duration
		source  WaitSource
	}{
		{"unset uses default", -1, 25 * time.Second, WaitSourceDefault},
		{"zero returns immediately", 0, 0, WaitSourceExplicit},
		{"explicit truncated to seconds", 1500 * time.Millisecond, time.Second, WaitSourceExplicit},
		{"over ceiling clamps", 2 * time.Minute, 30 * time.Second, WaitSourceClamped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Resolve(tt.request)
			assert.Equal(t, tt.want, d.Wait)
			assert.Equal(t, tt.source, d.Source)
			assert.Equal(t, tt.source == WaitSourceClamped, d.Clamped())
		})
	}
}

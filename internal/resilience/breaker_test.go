package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndProbes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }
	fail := errors.New("down")

	require.NoError(t, b.Allow("feed-a"))
	b.Record("feed-a", fail)
	require.NoError(t, b.Allow("feed-a"))
	b.Record("feed-a", fail)

	assert.ErrorIs(t, b.Allow("feed-a"), ErrOpen)
	assert.NoError(t, b.Allow("feed-b"))
	assert.Equal(t, []string{"feed-a"}, b.Open())

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("feed-a"))
	assert.ErrorIs(t, b.Allow("feed-a"), ErrOpen, "only one probe at a time")

	b.Record("feed-a", fail)
	assert.ErrorIs(t, b.Allow("feed-a"), ErrOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow("feed-a"))
	b.Record("feed-a", nil)
	assert.NoError(t, b.Allow("feed-a"))
	assert.Empty(t, b.Open())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2})
	b.Record("k", errors.New("x"))
	b.Record("k", nil)
	b.Record("k", errors.New("x"))
	assert.NoError(t, b.Allow("k"))
}

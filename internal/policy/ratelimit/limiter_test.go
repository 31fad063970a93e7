package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()
	url := "https://en.wikipedia.org/wiki/Fidelio"

	require.NoError(t, l.Wait(ctx, url))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, url))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterBucketsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://en.wikipedia.org/wiki/A"))
	require.NoError(t, l.Wait(ctx, "https://de.wikipedia.org/wiki/A"))
	assert.Len(t, l.limiters, 2)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "::not a url"))
	}
	_, ok := l.limiters["unknown"]
	assert.True(t, ok)
}

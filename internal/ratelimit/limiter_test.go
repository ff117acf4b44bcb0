package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitsForNextToken(t *testing.T) {
	// 600 per minute is one token every 100ms.
	l := New(Config{RequestsPerMinute: 600, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.alphavantage.co/query?symbol=SPY"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.alphavantage.co/query?symbol=QQQ"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonoursContext(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://a.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.example.com")
}

func TestLimiterDisabled(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 5 {
		require.NoError(t, l.Wait(ctx, "https://a.example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

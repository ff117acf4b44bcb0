package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsWholeSecondUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	require.Equal(t, time.UTC, got.Location())
	assert.Zero(t, got.Nanosecond())
	assert.WithinDuration(t, time.Now().UTC(), got, 2*time.Second)
}

func TestNowFormatsAsStoredTimestamp(t *testing.T) {
	t.Parallel()

	got := New().Now()
	parsed, err := time.Parse(time.RFC3339, got.Format(time.RFC3339))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(got))
}

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimits(t *testing.T) {
	buckets := ParseRateLimits("20:1,100:120")
	require.Len(t, buckets, 2)
	assert.Equal(t, 20, buckets[0].Capacity)
	assert.Equal(t, time.Second, buckets[0].Window)
	assert.Equal(t, 100, buckets[1].Capacity)
	assert.Equal(t, 120*time.Second, buckets[1].Window)
}

func TestParseRateLimits_EmptyFallsBackToDefault(t *testing.T) {
	buckets := ParseRateLimits("")
	require.Len(t, buckets, 2)
	assert.Equal(t, 20, buckets[0].Capacity)
	assert.Equal(t, 100, buckets[1].Capacity)
}

func TestParseRateLimits_Garbage(t *testing.T) {
	for _, s := range []string{"nope", ":", "a:b", "-5:10", "10:-5", "10:0"} {
		buckets := ParseRateLimits(s)
		require.Len(t, buckets, 2, "input %q", s)
		assert.Equal(t, 20, buckets[0].Capacity)
	}
}

func TestParseRateLimits_SkipsBadEntries(t *testing.T) {
	buckets := ParseRateLimits("20:1,junk,50:10")
	require.Len(t, buckets, 2)
	assert.Equal(t, 20, buckets[0].Capacity)
	assert.Equal(t, 50, buckets[1].Capacity)
}

func TestBucket_AdmitAndWait(t *testing.T) {
	now := time.Now()
	b := &RateBucket{Capacity: 2, Window: 10 * time.Second}

	assert.True(t, b.admit(now))
	b.record(now)
	assert.True(t, b.admit(now))
	b.record(now.Add(time.Second))

	// Full: oldest entry leaves the window at now+10s.
	assert.False(t, b.admit(now.Add(2*time.Second)))
	assert.Equal(t, 8*time.Second, b.waitTime(now.Add(2*time.Second)))

	// Pruned once the window passes.
	assert.True(t, b.admit(now.Add(10*time.Second+time.Millisecond)))
	assert.Zero(t, b.waitTime(now.Add(11*time.Second)))
}

func TestBucket_PruneKeepsOrder(t *testing.T) {
	now := time.Now()
	b := &RateBucket{Capacity: 3, Window: 5 * time.Second}
	b.record(now)
	b.record(now.Add(time.Second))
	b.record(now.Add(2 * time.Second))

	b.prune(now.Add(6 * time.Second))
	require.Equal(t, 1, b.size())
	assert.Equal(t, now.Add(2*time.Second), b.stamps[0])
}

package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_WindowLimit(t *testing.T) {
	now := time.Now()
	l := New(5, time.Hour)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d should be allowed", i+1)
	}

	// Sixth submission inside the window is rejected.
	assert.False(t, l.Allow("10.0.0.1"))
	assert.Equal(t, 0, l.Remaining("10.0.0.1"))

	// Other clients are unaffected.
	assert.True(t, l.Allow("10.0.0.2"))

	// After the window elapses a new submission succeeds.
	now = now.Add(time.Hour + time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.Equal(t, 4, l.Remaining("10.0.0.1"))
}

func TestLimiter_SlidingWindow(t *testing.T) {
	now := time.Now()
	l := New(2, 10*time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("client"))

	now = now.Add(6 * time.Minute)
	assert.True(t, l.Allow("client"))
	assert.False(t, l.Allow("client"))

	// The first hit slides out of the window, freeing one slot.
	now = now.Add(5 * time.Minute)
	assert.True(t, l.Allow("client"))
	assert.False(t, l.Allow("client"))
}

func TestLimiter_RejectedAttemptsNotCounted(t *testing.T) {
	now := time.Now()
	l := New(1, time.Hour)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("client"))
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("client"))
	}

	// Only the accepted hit ages out; the rejections left no trace.
	now = now.Add(time.Hour + time.Second)
	assert.True(t, l.Allow("client"))
}

func TestLimiter_Evict(t *testing.T) {
	now := time.Now()
	l := New(5, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Len(t, l.hits, 2)

	now = now.Add(2 * time.Minute)
	l.Evict()
	assert.Len(t, l.hits, 0)
}

func TestLimiter_ConcurrentSameKey(t *testing.T) {
	l := New(5, time.Hour)

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if l.Allow("racer") {
					allowed <- struct{}{}
				}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	// Exactly the window limit gets through, no matter how the requests race.
	assert.Equal(t, 5, count)
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := New(1, time.Hour)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(fmt.Sprintf("client-%d", i)))
	}
}

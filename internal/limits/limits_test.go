package limits

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow_LimitWithinWindow(t *testing.T) {
	l := NewSlidingWindow(3, 2*time.Second)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("10.0.0.1", now))
	assert.True(t, l.Allow("10.0.0.1", now.Add(100*time.Millisecond)))
	assert.True(t, l.Allow("10.0.0.1", now.Add(200*time.Millisecond)))
	assert.False(t, l.Allow("10.0.0.1", now.Add(300*time.Millisecond)))
}

func TestSlidingWindow_ExpiryReadmits(t *testing.T) {
	l := NewSlidingWindow(3, 2*time.Second)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k", now.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.False(t, l.Allow("k", now.Add(time.Second)))

	// Past the window the oldest timestamps fall out and admission resumes.
	later := now.Add(2*time.Second + 300*time.Millisecond)
	assert.True(t, l.Allow("k", later))
}

func TestSlidingWindow_DenialsNotRecorded(t *testing.T) {
	l := NewSlidingWindow(2, time.Second)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("k", now))
	assert.True(t, l.Allow("k", now))
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("k", now.Add(time.Duration(i)*10*time.Millisecond)))
	}
	assert.Equal(t, 2, l.Pending("k", now),
		"rejected attempts must not extend the penalty")

	// Admission resumes as soon as the two recorded entries age out.
	assert.True(t, l.Allow("k", now.Add(time.Second+time.Millisecond)))
}

func TestSlidingWindow_KeysIndependent(t *testing.T) {
	l := NewSlidingWindow(1, time.Second)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now), "exhausting one key must not affect another")
}

func TestSlidingWindow_Sweep(t *testing.T) {
	l := NewSlidingWindow(5, time.Second)
	now := time.Unix(1_700_000_000, 0)

	l.Allow("stale", now)
	l.Allow("fresh", now.Add(2*time.Second))

	l.Sweep(now.Add(2*time.Second + time.Millisecond))

	l.mu.Lock()
	_, staleKept := l.byKey["stale"]
	_, freshKept := l.byKey["fresh"]
	l.mu.Unlock()
	assert.False(t, staleKept)
	assert.True(t, freshKept)

	// A swept key behaves like a fresh one.
	assert.True(t, l.Allow("stale", now.Add(3*time.Second)))
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	l := NewSlidingWindow(100, time.Second)
	now := time.Unix(1_700_000_000, 0)

	var wg sync.WaitGroup
	allowed := make([]int, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.Allow("shared", now) {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range allowed {
		total += n
	}
	assert.Equal(t, 100, total, "exactly limit admissions under contention")
}

func TestConnLimiter_PerIPBurst(t *testing.T) {
	l := NewConnLimiter(ConnLimiterConfig{
		IPBurst:     3,
		IPRate:      0.001,
		GlobalBurst: 1000,
		GlobalRate:  1000,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "other IPs keep their own bucket")
}

func TestConnLimiter_GlobalBurst(t *testing.T) {
	l := NewConnLimiter(ConnLimiterConfig{
		IPBurst:     100,
		IPRate:      100,
		GlobalBurst: 5,
		GlobalRate:  0.001,
		Logger:      zerolog.Nop(),
	})
	defer l.Stop()

	granted := 0
	for i := 0; i < 20; i++ {
		if l.Allow(fmt.Sprintf("10.0.0.%d", i)) {
			granted++
		}
	}
	assert.Equal(t, 5, granted, "global bucket caps the aggregate")
}

func TestConnLimiter_StopIdempotent(t *testing.T) {
	l := NewConnLimiter(ConnLimiterConfig{Logger: zerolog.Nop()})
	l.Stop()
	l.Stop()
}

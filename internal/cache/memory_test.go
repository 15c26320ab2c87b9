package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_GetWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Set(ctx, "sports:us", []byte("payload"), time.Hour)
	clock.Advance(59 * time.Minute)

	got, ok := m.Get(ctx, "sports:us")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	got, ok = m.Get(ctx, "sports:us")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestMemory_ExpiredIsAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Set(ctx, "odds:soccer_epl:us:h2h", []byte("x"), 5*time.Minute)

	// Exactly at the deadline the entry is still valid.
	clock.Advance(5 * time.Minute)
	_, ok := m.Get(ctx, "odds:soccer_epl:us:h2h")
	assert.True(t, ok)

	clock.Advance(time.Second)
	got, ok := m.Get(ctx, "odds:soccer_epl:us:h2h")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, m.Len(), "expired entry should be dropped on read")
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 0)
	clock.Advance(24 * 365 * time.Hour)

	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemory_Invalidate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Hour)
	m.Invalidate(ctx, "k")
	m.Invalidate(ctx, "missing")

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_MaxEntriesEvictsSoonestExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now), WithMaxEntries(2))
	ctx := context.Background()

	m.Set(ctx, "long", []byte("1"), time.Hour)
	m.Set(ctx, "short", []byte("2"), time.Minute)
	m.Set(ctx, "new", []byte("3"), 10*time.Minute)

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "long")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "new")
	assert.True(t, ok)
}

func TestMemory_MaxEntriesPrefersExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(WithClock(clock.Now), WithMaxEntries(2))
	ctx := context.Background()

	m.Set(ctx, "stale", []byte("1"), time.Second)
	m.Set(ctx, "fresh", []byte("2"), time.Hour)
	clock.Advance(time.Minute)

	m.Set(ctx, "new", []byte("3"), 30*time.Minute)

	_, ok := m.Get(ctx, "fresh")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "new")
	assert.True(t, ok)
}

func TestMemory_OverwriteDoesNotEvict(t *testing.T) {
	m := NewMemory(WithMaxEntries(1))
	ctx := context.Background()

	m.Set(ctx, "k", []byte("1"), time.Hour)
	m.Set(ctx, "k", []byte("2"), time.Hour)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), got)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory(WithMaxEntries(16))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%32)
				m.Set(ctx, key, []byte{byte(g)}, time.Millisecond*time.Duration(i%3))
				m.Get(ctx, key)
				if i%50 == 0 {
					m.Invalidate(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Len(), 16)
}

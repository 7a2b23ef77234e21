package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClock_StartsAtStart(t *testing.T) {
	c := NewClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, epoch, c.Now(), "Now does not advance")
}

func TestClock_ConvertsToUTC(t *testing.T) {
	local := time.Date(2024, 1, 1, 2, 0, 0, 0, time.FixedZone("X", 2*3600))
	c := NewClock(local)
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, c.Now().Equal(epoch))
}

func TestClock_Advance(t *testing.T) {
	c := NewClock(epoch)
	assert.Equal(t, epoch.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, epoch.Add(25*time.Hour), c.Advance(24*time.Hour))
}

func TestClock_Set(t *testing.T) {
	c := NewClock(epoch)
	later := epoch.AddDate(0, 1, 0)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestClock_ConcurrentAdvance(t *testing.T) {
	c := NewClock(epoch)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	require.Equal(t, epoch.Add(100*time.Second), c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("evt")
	assert.Equal(t, "evt-1", g.Next())
	assert.Equal(t, "evt-2", g.Next())

	g.Reset()
	assert.Equal(t, "evt-1", g.Next())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-1", NewSequentialIDs("").Next())
}

func TestSequentialIDs_ConcurrentUnique(t *testing.T) {
	g := NewSequentialIDs("x")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Next()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
}

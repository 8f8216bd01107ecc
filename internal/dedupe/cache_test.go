// ABOUTME: Tests for the change-UID dedupe cache.
// ABOUTME: Validates TTL expiration, capacity eviction, and retransmit races.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_FirstSightingIsNotADuplicate(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("uid-1"), "first sighting is not a duplicate")
	assert.True(t, cache.CheckAndMark("uid-1"), "retransmit is")
	assert.False(t, cache.CheckAndMark("uid-2"), "distinct UIDs are independent")
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.CheckAndMark("expiring"))
	assert.True(t, cache.CheckAndMark("expiring"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.CheckAndMark("expiring"), "an expired UID is new again")
}

func TestCache_RemarkRefreshesTTL(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.CheckAndMark("refresh")
	time.Sleep(30 * time.Millisecond)
	cache.CheckAndMark("refresh")
	time.Sleep(30 * time.Millisecond)

	assert.True(t, cache.CheckAndMark("refresh"), "each sighting restarts the TTL")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.CheckAndMark("first")
	cache.CheckAndMark("second")
	cache.CheckAndMark("third")
	cache.CheckAndMark("fourth")

	assert.False(t, cache.CheckAndMark("first"), "oldest UID should have been evicted")
	assert.True(t, cache.CheckAndMark("third"))
	assert.True(t, cache.CheckAndMark("fourth"))
}

func TestCache_SweepRemovesExpiredEntries(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.CheckAndMark("a")
	cache.CheckAndMark("b")
	time.Sleep(20 * time.Millisecond)

	cache.sweepExpired()

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Empty(t, cache.seen)
	assert.Zero(t, cache.order.Len())
}

func TestCache_ExactlyOneWinner(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	var mu sync.Mutex
	var winners int
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one session should win a retransmit race")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.CheckAndMark(fmt.Sprintf("uid-%d-%d", id, j%10))
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, cache.CheckAndMark("final"))
	assert.True(t, cache.CheckAndMark("final"))
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.CheckAndMark("before-close")
	cache.Close()
	cache.Close()

	assert.True(t, cache.CheckAndMark("before-close"), "closing stops the sweep, not lookups")
}

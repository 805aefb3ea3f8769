package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryStartClaimsOnce(t *testing.T) {
	guard := NewGuard()

	assert.True(t, guard.TryStart("msg-1", time.Hour))
	assert.False(t, guard.TryStart("msg-1", time.Hour))
	assert.True(t, guard.TryStart("msg-2", time.Hour))
	assert.Equal(t, 2, guard.Len())
}

func TestCompleteReleasesClaim(t *testing.T) {
	guard := NewGuard()

	assert.True(t, guard.TryStart("msg-1", time.Hour))
	guard.Complete("msg-1")
	assert.True(t, guard.TryStart("msg-1", time.Hour))
}

func TestCompleteUnclaimedIsNoop(t *testing.T) {
	guard := NewGuard()
	guard.Complete("never-claimed")
	assert.Equal(t, 0, guard.Len())
}

func TestExpiredClaimIsReclaimable(t *testing.T) {
	guard := NewGuard()
	current := time.Now()
	guard.now = func() time.Time { return current }

	assert.True(t, guard.TryStart("msg-1", time.Minute))
	assert.False(t, guard.TryStart("msg-1", time.Minute))

	current = current.Add(2 * time.Minute)
	assert.True(t, guard.TryStart("msg-1", time.Minute))
}

func TestLenDropsExpired(t *testing.T) {
	guard := NewGuard()
	current := time.Now()
	guard.now = func() time.Time { return current }

	guard.TryStart("msg-1", time.Minute)
	guard.TryStart("msg-2", time.Hour)
	assert.Equal(t, 2, guard.Len())

	current = current.Add(5 * time.Minute)
	assert.Equal(t, 1, guard.Len())
}

func TestTryStartConcurrentExclusivity(t *testing.T) {
	guard := NewGuard()

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if guard.TryStart("contended", time.Hour) {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

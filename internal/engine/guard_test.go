package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/sadhana/internal/journal"
)

func TestInFlightGuard_AcquireRelease(t *testing.T) {
	g := NewInFlightGuard()
	k := journal.Key{DayKey: "2024-02-05", ItemID: "yoga"}

	assert.True(t, g.TryAcquire(k))
	assert.True(t, g.Held(k))
	assert.False(t, g.TryAcquire(k), "second claim fails")

	other := journal.Key{DayKey: "2024-02-05", ItemID: "med"}
	assert.True(t, g.TryAcquire(other), "different keys are independent")
	assert.Equal(t, 2, g.Size())

	g.Release(k)
	assert.False(t, g.Held(k))
	assert.True(t, g.TryAcquire(k))

	g.Release(journal.Key{DayKey: "2000-01-01", ItemID: "none"})
	assert.Equal(t, 2, g.Size())
}

func TestInFlightGuard_OneWinner(t *testing.T) {
	g := NewInFlightGuard()
	k := journal.Key{DayKey: "2024-02-05", ItemID: "yoga"}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(k) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSequence(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())

	s = NewSequenceAt(100)
	assert.Equal(t, int64(101), s.Next())
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence()
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(s.Next(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), s.Current())
}

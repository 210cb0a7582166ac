package sequence

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_UniqueAtSameInstant(t *testing.T) {
	g := New("custody")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := g.Next(now)
	b := g.Next(now)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, common.Hash{}, a)
	assert.Equal(t, uint64(2), g.Issued())
}

func TestNext_SaltSeparatesGenerators(t *testing.T) {
	now := time.Now()
	instance := uuid.New()
	assert.NotEqual(t, NewWithInstance("a", instance).Next(now), NewWithInstance("b", instance).Next(now))
	assert.Equal(t, NewWithInstance("a", instance).Next(now), NewWithInstance("a", instance).Next(now))
}

func TestNext_RestartDoesNotRepeatIDs(t *testing.T) {
	// A request clock pinned to one instant and a counter back at zero.
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := New("custody")
	after := New("custody")

	seen := make(map[common.Hash]struct{})
	for range 5 {
		seen[before.Next(now)] = struct{}{}
	}
	for range 5 {
		id := after.Next(now)
		_, dup := seen[id]
		assert.False(t, dup, "id %s repeated after restart", id.Hex())
	}
}

func TestNext_Concurrent(t *testing.T) {
	g := New("custody")
	now := time.Now()

	const workers, perWorker = 8, 250
	var (
		mu   sync.Mutex
		seen = make(map[common.Hash]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := g.Next(now)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

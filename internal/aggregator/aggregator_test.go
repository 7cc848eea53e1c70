package aggregator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delay-predictor/internal/domain"
)

func rec(i int) domain.RawRecord {
	return domain.RawRecord{"i": i}
}

func TestAppendPreservesArrivalOrder(t *testing.T) {
	s := NewStore(nil)
	s.Append("k", []domain.RawRecord{rec(1), rec(2)})
	s.Append("k", []domain.RawRecord{rec(3)})

	records := s.Complete("k")
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r["i"])
	}
}

func TestCompleteUnknownKey(t *testing.T) {
	s := NewStore(nil)
	assert.Empty(t, s.Complete("never-seen"))
}

func TestCompleteConsumesExactlyOnce(t *testing.T) {
	s := NewStore(nil)
	s.Append("k", []domain.RawRecord{rec(1)})

	assert.Len(t, s.Complete("k"), 1)
	assert.Empty(t, s.Complete("k"))
	assert.Zero(t, s.Pending())
}

func TestKeysAreIsolated(t *testing.T) {
	s := NewStore(nil)
	s.Append("a", []domain.RawRecord{rec(1)})
	s.Append("b", []domain.RawRecord{rec(2), rec(3)})

	assert.Equal(t, 2, s.Pending())
	assert.Len(t, s.Complete("a"), 1)
	assert.Len(t, s.Complete("b"), 2)
}

func TestIngestDispatch(t *testing.T) {
	s := NewStore(nil)

	records, ok := s.Ingest(domain.DataTransferEvent{
		Key:       "k",
		EventType: domain.EventDataTransfer,
		Data:      []domain.RawRecord{rec(1), rec(2)},
	})
	assert.False(t, ok)
	assert.Nil(t, records)

	// REQUEST events are not ours to handle
	_, ok = s.Ingest(domain.DataTransferEvent{Key: "k", EventType: domain.EventRequest})
	assert.False(t, ok)

	records, ok = s.Ingest(domain.DataTransferEvent{Key: "k", EventType: domain.EventComplete})
	assert.True(t, ok)
	assert.Len(t, records, 2)
}

func TestIngestMissingKeyDropped(t *testing.T) {
	s := NewStore(nil)
	_, ok := s.Ingest(domain.DataTransferEvent{
		EventType: domain.EventDataTransfer,
		Data:      []domain.RawRecord{rec(1)},
	})
	assert.False(t, ok)
	assert.Zero(t, s.Pending())
}

func TestIngestCompleteWithoutData(t *testing.T) {
	s := NewStore(nil)
	records, ok := s.Ingest(domain.DataTransferEvent{Key: "empty", EventType: domain.EventComplete})
	assert.True(t, ok)
	assert.Empty(t, records)
}

func TestConcurrentAppends(t *testing.T) {
	s := NewStore(nil)

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", g%2)
			for i := 0; i < perGoroutine; i++ {
				s.Append(key, []domain.RawRecord{rec(i)})
			}
		}(g)
	}
	wg.Wait()

	total := len(s.Complete("key-0")) + len(s.Complete("key-1"))
	assert.Equal(t, goroutines*perGoroutine, total)
}

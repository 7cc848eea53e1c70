// Package aggregator owns the batch-collection state: partial delay-record
// batches accumulate per correlation key until the collector signals
// completion. The store is explicit and injected, never ambient, and is
// safe for concurrent delivery: different keys never contend, operations on
// the same key are serialized.
package aggregator

import (
	"sync"

	"go.uber.org/zap"

	"delay-predictor/internal/domain"
)

type entry struct {
	mu      sync.Mutex
	records []domain.RawRecord
}

// Store accumulates raw records per correlation key.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *zap.Logger
}

// NewStore builds an empty aggregation store.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Append adds records to the buffer for key, creating it on first use.
// Arrival order is preserved.
func (s *Store) Append(key string, records []domain.RawRecord) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.records = append(e.records, records...)
	e.mu.Unlock()
}

// Complete atomically removes and returns everything accumulated for key.
// A key that never received data yields an empty slice; that is a normal
// outcome, not an error. Each key is consumed exactly once.
func (s *Store) Complete(key string) []domain.RawRecord {
	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	records := e.records
	e.records = nil
	e.mu.Unlock()
	return records
}

// Pending reports how many keys currently have buffered records.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Ingest dispatches one protocol event. DATA_TRANSFER buffers, COMPLETE
// pops and returns (ok=true) the full set; REQUEST and unrecognized kinds
// are dropped with a diagnostic. A missing correlation key cannot be
// aggregated and is dropped as well. Redelivered DATA_TRANSFER for an
// already-completed key simply starts a new buffer; the transport acks
// after handling, so duplicates only occur on crash recovery.
func (s *Store) Ingest(ev domain.DataTransferEvent) (records []domain.RawRecord, ok bool) {
	if ev.Key == "" {
		s.log.Warn("event without correlation key dropped",
			zap.String("event_type", string(ev.EventType)),
			zap.Int("records", len(ev.Data)))
		return nil, false
	}

	switch ev.EventType {
	case domain.EventDataTransfer:
		s.Append(ev.Key, ev.Data)
		s.log.Info("buffered batch",
			zap.String("key", ev.Key),
			zap.Int("records", len(ev.Data)))
		return nil, false
	case domain.EventComplete:
		records = s.Complete(ev.Key)
		s.log.Info("batch complete",
			zap.String("key", ev.Key),
			zap.Int("records", len(records)))
		return records, true
	default:
		s.log.Warn("ignoring event",
			zap.String("key", ev.Key),
			zap.String("event_type", string(ev.EventType)))
		return nil, false
	}
}

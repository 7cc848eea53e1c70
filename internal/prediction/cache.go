// Package prediction keeps the currently served pipelines in memory and
// refreshes them from the repository on a schedule.
package prediction

import (
	"sync/atomic"
	"time"

	"delay-predictor/internal/domain"
	"delay-predictor/pkg/pipeline"
)

// CachedModel is one loaded, ready-to-serve pipeline with its provenance.
type CachedModel struct {
	ModelID   string
	DelayType domain.DelayType
	Pipeline  *pipeline.Pipeline
	Metrics   domain.ModelMetrics
	CreatedAt time.Time
}

// Cache holds at most one model per delay type. Reads are lock-free; swaps
// are atomic, so a request always sees either the old or the new model,
// never a partial state.
type Cache struct {
	arrival   atomic.Pointer[CachedModel]
	departure atomic.Pointer[CachedModel]
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) slot(t domain.DelayType) *atomic.Pointer[CachedModel] {
	if t == domain.DelayTypeDeparture {
		return &c.departure
	}
	return &c.arrival
}

// Get returns the current model for a delay type, or nil before the first
// successful load.
func (c *Cache) Get(t domain.DelayType) *CachedModel {
	return c.slot(t).Load()
}

// Put swaps in a new model for its delay type.
func (c *Cache) Put(m *CachedModel) {
	c.slot(m.DelayType).Store(m)
}

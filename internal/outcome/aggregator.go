// Package outcome aggregates what happened to every batch a session produced.
package outcome

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Report is a snapshot of the outcomes recorded since the previous snapshot.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Quantity returns the quantity recorded for reason and category.
func (r *Report) Quantity(reason Reason, category Category) int64 {
	if r == nil {
		return 0
	}
	for _, o := range r.Outcomes {
		if o.Reason == reason && o.Category == category {
			return o.Quantity
		}
	}
	return 0
}

// Aggregator collects batch outcomes. Safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	outcomes map[Key]*atomic.Int64
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		outcomes: make(map[Key]*atomic.Int64),
	}
}

// Record adds quantity to the bucket for reason and category.
func (a *Aggregator) Record(reason Reason, category Category, quantity int64) {
	if a == nil || quantity <= 0 {
		return
	}

	key := Key{Reason: reason, Category: category}

	a.mu.Lock()
	counter, exists := a.outcomes[key]
	if !exists {
		counter = &atomic.Int64{}
		a.outcomes[key] = counter
	}
	a.mu.Unlock()

	counter.Add(quantity)
}

// RecordBatch records one batch of size bytes.
func (a *Aggregator) RecordBatch(reason Reason, size int) {
	a.Record(reason, CategoryBatch, 1)
	a.Record(reason, CategoryByte, int64(size))
}

// TakeReport atomically takes all accumulated outcomes. It returns nil when
// nothing was recorded since the last call.
func (a *Aggregator) TakeReport() *Report {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var outcomes []Outcome
	for key, counter := range a.outcomes {
		if quantity := counter.Swap(0); quantity > 0 {
			outcomes = append(outcomes, Outcome{
				Reason:   key.Reason,
				Category: key.Category,
				Quantity: quantity,
			})
		}
	}

	// Clear empty counters to prevent unbounded growth
	for key, counter := range a.outcomes {
		if counter.Load() == 0 {
			delete(a.outcomes, key)
		}
	}

	if len(outcomes) == 0 {
		return nil
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Reason != outcomes[j].Reason {
			return outcomes[i].Reason < outcomes[j].Reason
		}
		return outcomes[i].Category < outcomes[j].Category
	})

	return &Report{
		Timestamp: time.Now(),
		Outcomes:  outcomes,
	}
}

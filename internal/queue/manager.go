package queue

import (
	"context"
	"sync"
	"time"

	"teamdigest/internal/event"
	"teamdigest/internal/metrics"
)

type queued struct {
	env        *event.Envelope
	enqueuedAt time.Time
}

// LaneStatus is a point-in-time snapshot of one lane for the status endpoint.
type LaneStatus struct {
	Lane         string  `json:"lane"`
	Depth        int     `json:"depth"`
	OldestAgeSec float64 `json:"oldest_age_seconds"`
	Processed    uint64  `json:"processed"`
}

// Manager holds the three in-process lanes. Workers block on PopNext, which
// always re-checks the hot lane before standard and backfill so a hot event
// enqueued mid-drain jumps ahead.
type Manager struct {
	mu        sync.Mutex
	lanes     map[Lane][]queued
	processed map[Lane]uint64
	notify    chan struct{}
	now       func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		lanes:     map[Lane][]queued{},
		processed: map[Lane]uint64{},
		notify:    make(chan struct{}),
		now:       time.Now,
	}
}

func (m *Manager) Push(lane Lane, env *event.Envelope) {
	m.mu.Lock()
	m.lanes[lane] = append(m.lanes[lane], queued{env: env, enqueuedAt: m.now()})
	metrics.QueueDepth.WithLabelValues(lane.String()).Set(float64(len(m.lanes[lane])))
	// Closing the channel wakes every blocked worker, not just one.
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
}

// PopNext blocks until an event is available or the context is cancelled.
func (m *Manager) PopNext(ctx context.Context) (*event.Envelope, Lane, error) {
	for {
		env, lane, wait, ok := m.tryPop()
		if ok {
			return env, lane, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-wait:
		}
	}
}

// tryPop returns the next event in lane-priority order, or the channel to
// wait on when every lane is empty.
func (m *Manager) tryPop() (*event.Envelope, Lane, <-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lane := range Lanes() {
		items := m.lanes[lane]
		if len(items) == 0 {
			continue
		}
		head := items[0]
		m.lanes[lane] = items[1:]
		m.processed[lane]++
		metrics.QueueDepth.WithLabelValues(lane.String()).Set(float64(len(m.lanes[lane])))
		return head.env, lane, nil, true
	}
	return nil, 0, m.notify, false
}

// Depth reports the number of queued events across all lanes.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, items := range m.lanes {
		total += len(items)
	}
	return total
}

func (m *Manager) Status() []LaneStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	statuses := make([]LaneStatus, 0, len(Lanes()))
	for _, lane := range Lanes() {
		items := m.lanes[lane]
		status := LaneStatus{
			Lane:      lane.String(),
			Depth:     len(items),
			Processed: m.processed[lane],
		}
		if len(items) > 0 {
			status.OldestAgeSec = now.Sub(items[0].enqueuedAt).Seconds()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

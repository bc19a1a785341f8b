package adapter

import "sync"

// DefaultHistoryDepth caps the adaptation trail kept per schedule.
const DefaultHistoryDepth = 50

// History is a capped, per-schedule adaptation trail. Oldest records are
// dropped once the cap is reached.
type History struct {
	mu      sync.RWMutex
	depth   int
	records map[string][]*Record
}

// NewHistory создаёт журнал адаптаций
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{depth: depth, records: make(map[string][]*Record)}
}

// Append stores a record for the schedule, evicting the oldest past the cap.
func (h *History) Append(scheduleID string, rec *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	trail := append(h.records[scheduleID], rec)
	if len(trail) > h.depth {
		trail = trail[len(trail)-h.depth:]
	}
	h.records[scheduleID] = trail
}

// For returns the adaptation trail of one schedule, oldest first.
func (h *History) For(scheduleID string) []*Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Record(nil), h.records[scheduleID]...)
}

// Len returns the number of records kept for a schedule.
func (h *History) Len(scheduleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records[scheduleID])
}

package schedule

import (
	"fmt"
	"sync"
	"time"

	"irrigation/pkg/apperror"
)

// weekKey identifies one ISO week.
type weekKey struct {
	year, week int
}

// Book is the in-memory registry of weekly schedules. It owns the active
// schedule pointer per week and serializes mutations per schedule; readers
// of the pointer dominate, so it sits behind an RW lock.
type Book struct {
	mu        sync.RWMutex
	schedules map[string]*WeeklySchedule
	active    map[weekKey]string

	// Per-schedule mutexes serialize status transitions and adaptation
	// patches for one schedule without blocking the others.
	locks map[string]*sync.Mutex
}

// NewBook создаёт пустой реестр планов
func NewBook() *Book {
	return &Book{
		schedules: make(map[string]*WeeklySchedule),
		active:    make(map[weekKey]string),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Add registers a schedule.
func (b *Book) Add(s *WeeklySchedule) error {
	if s == nil {
		return apperror.New(apperror.CodeNilInput, "schedule is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.schedules[s.ID]; ok {
		return apperror.New(apperror.CodeScheduleConflict,
			fmt.Sprintf("schedule %s already registered", s.ID))
	}
	b.schedules[s.ID] = s
	b.locks[s.ID] = &sync.Mutex{}
	return nil
}

// Get returns a schedule by id.
func (b *Book) Get(id string) (*WeeklySchedule, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.schedules[id]
	if !ok {
		return nil, apperror.ErrScheduleNotFound
	}
	return s, nil
}

// Active returns the active schedule for an ISO week, or nil when none.
func (b *Book) Active(year, week int) *WeeklySchedule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.active[weekKey{year, week}]
	if !ok {
		return nil
	}
	return b.schedules[id]
}

// Lock acquires the per-schedule mutex. The caller must hold it across any
// read-modify-write of the schedule and release it with Unlock.
func (b *Book) Lock(id string) (func(), error) {
	b.mu.RLock()
	mu, ok := b.locks[id]
	b.mu.RUnlock()
	if !ok {
		return nil, apperror.ErrScheduleNotFound
	}
	mu.Lock()
	return mu.Unlock, nil
}

// Activate makes a schedule the active one for its week. The schedule must
// be approved; any other active schedule for the same week is moved to
// completed. Re-activating the already active schedule is a no-op.
func (b *Book) Activate(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.schedules[id]
	if !ok {
		return apperror.ErrScheduleNotFound
	}
	key := weekKey{s.Year, s.Week}

	if b.active[key] == id && s.Status == StatusActive {
		return nil
	}
	if s.Status != StatusApproved {
		return apperror.NewWithField(apperror.CodeInvalidTransition,
			fmt.Sprintf("schedule %s is %s, only approved schedules can be activated", id, s.Status), "status")
	}

	if prevID, ok := b.active[key]; ok && prevID != id {
		prev := b.schedules[prevID]
		if prev != nil && prev.Status == StatusActive {
			prev.Status = StatusCompleted
			prev.UpdatedAt = time.Now().UTC()
		}
	}

	s.Status = StatusActive
	s.UpdatedAt = time.Now().UTC()
	b.active[key] = id
	return nil
}

// BumpVersion increments the schedule version if the caller still holds the
// version it read. Mirrors the optimistic CAS done on the version column.
func (b *Book) BumpVersion(id string, expected int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.schedules[id]
	if !ok {
		return 0, apperror.ErrScheduleNotFound
	}
	if s.Version != expected {
		return s.Version, apperror.ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return s.Version, nil
}

// Delete removes a schedule. Active schedules cannot be deleted.
func (b *Book) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.schedules[id]
	if !ok {
		return apperror.ErrScheduleNotFound
	}
	if s.Status == StatusActive {
		return apperror.New(apperror.CodeScheduleConflict,
			fmt.Sprintf("schedule %s is active and cannot be deleted", id))
	}
	delete(b.schedules, id)
	delete(b.locks, id)
	return nil
}

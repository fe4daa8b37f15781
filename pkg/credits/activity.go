package credits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivityKind names a monthly activity counter. Unlike AI credits,
// these counters reset when the month key rolls over; they track
// produced output, not consumed allowance.
type ActivityKind string

const (
	ActivityQuizzesGenerated ActivityKind = "quizzesGenerated"
	ActivityNotesGenerated   ActivityKind = "notesGenerated"
)

// MonthKey formats t as the "YYYY-MM" bucket key used by monthly counters.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ActivityStore persists monthly activity counters. BumpMonthly must be
// atomic: when the stored month key matches it increments, otherwise it
// replaces the counter with delta under the new key.
type ActivityStore interface {
	BumpMonthly(ctx context.Context, userID uuid.UUID, kind ActivityKind, monthKey string, delta int64) (int64, error)
	MonthlyCount(ctx context.Context, userID uuid.UUID, kind ActivityKind, monthKey string) (int64, error)
}

// ActivityTracker records monthly generation activity. Recording is
// best-effort: a failed bump is logged and never fails the request that
// produced the activity.
type ActivityTracker struct {
	store ActivityStore
	now   func() time.Time
	log   *slog.Logger
}

// NewActivityTracker creates a tracker. now may be nil (defaults to
// time.Now) and is injectable for month-rollover tests.
func NewActivityTracker(store ActivityStore, now func() time.Time, log *slog.Logger) *ActivityTracker {
	if store == nil {
		panic("credits: ActivityStore is required")
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &ActivityTracker{store: store, now: now, log: log}
}

// Record adds n to the user's counter for the current month.
func (t *ActivityTracker) Record(ctx context.Context, userID uuid.UUID, kind ActivityKind, n int64) {
	if n <= 0 {
		return
	}
	if _, err := t.store.BumpMonthly(ctx, userID, kind, MonthKey(t.now()), n); err != nil {
		t.log.ErrorContext(ctx, "failed to record activity",
			slog.String("user_id", userID.String()),
			slog.String("kind", string(kind)),
			slog.Any("error", err))
	}
}

// MonthToDate returns the counter value for the current month. A counter
// still carrying a previous month's key reads as zero.
func (t *ActivityTracker) MonthToDate(ctx context.Context, userID uuid.UUID, kind ActivityKind) (int64, error) {
	return t.store.MonthlyCount(ctx, userID, kind, MonthKey(t.now()))
}

// memoryActivityStore backs ActivityTracker in tests.
type memoryActivityStore struct {
	mu       sync.Mutex
	counters map[string]monthlyCounter
}

type monthlyCounter struct {
	monthKey string
	count    int64
}

// NewMemoryActivityStore returns an in-memory ActivityStore.
func NewMemoryActivityStore() ActivityStore {
	return &memoryActivityStore{counters: make(map[string]monthlyCounter)}
}

func activityKey(userID uuid.UUID, kind ActivityKind) string {
	return userID.String() + "/" + string(kind)
}

func (s *memoryActivityStore) BumpMonthly(ctx context.Context, userID uuid.UUID, kind ActivityKind, monthKey string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := activityKey(userID, kind)
	c := s.counters[key]
	if c.monthKey != monthKey {
		c = monthlyCounter{monthKey: monthKey}
	}
	c.count += delta
	s.counters[key] = c
	return c.count, nil
}

func (s *memoryActivityStore) MonthlyCount(ctx context.Context, userID uuid.UUID, kind ActivityKind, monthKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[activityKey(userID, kind)]
	if c.monthKey != monthKey {
		return 0, nil
	}
	return c.count, nil
}

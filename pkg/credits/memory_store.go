package credits

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory UsageStore and PlanStore for tests and
// local development. Each mutating method holds one mutex for its whole
// predicate-and-write, mirroring the single-document atomicity the
// production store gets from conditional updates.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]UsageRecord
	users   map[uuid.UUID]string // userID -> plan reference
	plans   map[string]Plan
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]UsageRecord),
		users:   make(map[uuid.UUID]string),
		plans:   make(map[string]Plan),
	}
}

// AddUser registers a user with a plan reference and no usage record.
func (s *MemoryStore) AddUser(userID uuid.UUID, planRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = planRef
}

// AddPlan stores a plan document.
func (s *MemoryStore) AddPlan(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
}

// SetLegacyUsage gives a user the old single-counter representation.
func (s *MemoryStore) SetLegacyUsage(userID uuid.UUID, credits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = UsageRecord{Shape: ShapeLegacy, LegacyCredits: credits}
}

// PlanRef resolves a user's plan reference; satisfies PlanRefResolver.
func (s *MemoryStore) PlanRef(ctx context.Context, userID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return ref, nil
}

// FindPlanByID implements PlanStore.
func (s *MemoryStore) FindPlanByID(ctx context.Context, id string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

// GetUsage implements UsageStore.
func (s *MemoryStore) GetUsage(ctx context.Context, userID uuid.UUID) (UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return UsageRecord{}, ErrUserNotFound
	}
	rec, ok := s.records[userID]
	if !ok {
		return UsageRecord{Shape: ShapeAbsent}, nil
	}
	if rec.Shape == ShapeStructured {
		rec.Used = maps.Clone(rec.Used)
	}
	return rec, nil
}

// IncrementUsage implements UsageStore.
func (s *MemoryStore) IncrementUsage(ctx context.Context, userID uuid.UUID, feature Feature, cost, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok || rec.Shape != ShapeStructured {
		return false, nil
	}
	if limit != Unlimited && rec.Used[feature]+cost > limit {
		return false, nil
	}
	rec.Used[feature] += cost
	s.records[userID] = rec
	return true, nil
}

// DecrementUsage implements UsageStore.
func (s *MemoryStore) DecrementUsage(ctx context.Context, userID uuid.UUID, feature Feature, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok || rec.Shape != ShapeStructured {
		return false, nil
	}
	rec.Used[feature] -= amount
	s.records[userID] = rec
	return true, nil
}

// SeedStructured implements UsageStore.
func (s *MemoryStore) SeedStructured(ctx context.Context, userID uuid.UUID, feature Feature, cost int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return false, nil
	}
	if rec, ok := s.records[userID]; ok && rec.Shape == ShapeStructured {
		return false, nil
	}
	used := make(map[Feature]int64, 4)
	for _, f := range CreditFeatures() {
		used[f] = 0
	}
	used[feature] = cost
	s.records[userID] = UsageRecord{Shape: ShapeStructured, Used: used}
	return true, nil
}

// UsedCount reports the raw stored counter for assertions in tests.
func (s *MemoryStore) UsedCount(userID uuid.UUID, feature Feature) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID].UsedFor(feature)
}

// Shape reports the stored record shape for assertions in tests.
func (s *MemoryStore) Shape(userID uuid.UUID) UsageShape {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return ShapeAbsent
	}
	return rec.Shape
}

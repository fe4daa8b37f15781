package credits

import (
	"context"

	"github.com/google/uuid"
)

// PlanStore loads plan documents by reference.
type PlanStore interface {
	// FindPlanByID retrieves a plan by its document id.
	// Returns ErrPlanNotFound if no such plan exists.
	FindPlanByID(ctx context.Context, id string) (*Plan, error)
}

// UsageStore persists per-user usage records. Implementations must make
// every mutating method a single atomic storage operation: correctness
// under concurrent reservations depends on the store-level predicate,
// not on any in-process locking.
type UsageStore interface {
	// GetUsage returns the decoded usage record for a user.
	// Returns ErrUserNotFound if the user document does not exist.
	GetUsage(ctx context.Context, userID uuid.UUID) (UsageRecord, error)

	// IncrementUsage atomically adds cost to the feature's used-counter,
	// guarded by the predicate "record is Structured AND used+cost <= limit".
	// A limit of Unlimited disables the bound check. Returns (false, nil)
	// when the predicate did not hold; the caller decides whether that
	// means "needs migration" or "lost the race to other reservations".
	IncrementUsage(ctx context.Context, userID uuid.UUID, feature Feature, cost, limit int64) (bool, error)

	// DecrementUsage atomically subtracts amount from the feature's
	// used-counter, guarded only by "record is Structured". No lower
	// bound is enforced; the counter may go negative.
	DecrementUsage(ctx context.Context, userID uuid.UUID, feature Feature, amount int64) (bool, error)

	// SeedStructured atomically replaces a Legacy or Absent usage record
	// with a Structured map where every credit feature is zero except
	// feature, which is seeded to cost. Returns (false, nil) if the
	// record was already Structured (a concurrent migrator won).
	SeedStructured(ctx context.Context, userID uuid.UUID, feature Feature, cost int64) (bool, error)
}

// PlanRefResolver returns the plan reference (a plan document id or a
// legacy plan name) the given user is subscribed to.
type PlanRefResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// ResourceCounter returns the current number of owned resources for a
// user. Used for count-based limits such as decks; should be cheap, an
// indexed count or a cached aggregate.
type ResourceCounter func(ctx context.Context, userID uuid.UUID) (int64, error)

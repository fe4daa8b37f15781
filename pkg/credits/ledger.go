package credits

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Ledger is the atomic reserve/release primitive for credit features.
// All concurrent-safety is delegated to the UsageStore's conditional
// updates; the ledger itself holds no locks.
type Ledger struct {
	usage    UsageStore
	resolver *Resolver
	planRef  PlanRefResolver
	log      *slog.Logger
}

// NewLedger creates a Ledger. Panics on nil dependencies to fail fast
// during initialization.
func NewLedger(usage UsageStore, resolver *Resolver, planRef PlanRefResolver, log *slog.Logger) *Ledger {
	if usage == nil {
		panic("credits: UsageStore is required")
	}
	if resolver == nil {
		panic("credits: Resolver is required")
	}
	if planRef == nil {
		panic("credits: PlanRefResolver is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{usage: usage, resolver: resolver, planRef: planRef, log: log}
}

// CurrentUsage returns the derived balance for one feature. Legacy and
// Absent records read as zero usage.
func (l *Ledger) CurrentUsage(ctx context.Context, userID uuid.UUID, feature Feature) (FeatureCredits, error) {
	if !IsCreditFeature(feature) {
		return FeatureCredits{}, ErrInvalidFeature
	}

	limit, rec, err := l.limitAndRecord(ctx, userID, feature)
	if err != nil {
		return FeatureCredits{}, err
	}

	return newFeatureCredits(feature, rec.UsedFor(feature), limit), nil
}

// AllUsage returns the derived balance for every credit feature plus the
// deck allowance, for dashboard views. A single record read serves all
// features.
func (l *Ledger) AllUsage(ctx context.Context, userID uuid.UUID) (map[Feature]FeatureCredits, error) {
	planRef, err := l.planRef(ctx, userID)
	if err != nil {
		return nil, err
	}

	limits, err := l.resolver.LimitsFor(ctx, planRef)
	if err != nil {
		return nil, err
	}

	rec, err := l.usage.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[Feature]FeatureCredits, 4)
	for _, f := range CreditFeatures() {
		out[f] = newFeatureCredits(f, rec.UsedFor(f), limits.For(f))
	}
	return out, nil
}

// Reserve consumes cost credits of a feature for a user. The final
// increment is a single conditional storage operation whose predicate
// re-checks the bound, so two racing reservations cannot both overdraw
// the quota even when both passed the early remaining check.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, feature Feature, cost int64) (Decision, error) {
	if !IsCreditFeature(feature) {
		return Decision{}, ErrInvalidFeature
	}
	if cost <= 0 {
		return Decision{}, ErrNonPositiveCost
	}

	limit, rec, err := l.limitAndRecord(ctx, userID, feature)
	if err != nil {
		return Decision{}, err
	}

	fc := newFeatureCredits(feature, rec.UsedFor(feature), limit)

	// Unlimited plans never touch the stored counter.
	if fc.Unlimited {
		return Decision{Allowed: true, Unlimited: true, Remaining: Unlimited, MaxAllowed: Unlimited}, nil
	}

	if fc.Remaining < cost {
		return denied(feature, fc.Remaining, limit, cost), nil
	}

	if rec.Shape != ShapeStructured {
		return l.migrateAndReserve(ctx, userID, feature, cost, limit)
	}

	ok, err := l.usage.IncrementUsage(ctx, userID, feature, cost, limit)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return Decision{Allowed: true, Remaining: max(0, limit-fc.Used-cost), MaxAllowed: limit}, nil
	}

	// Predicate failed: either a concurrent reservation consumed the
	// remaining headroom, or the record was concurrently rewritten.
	// Re-read to report an accurate denial.
	fc, err = l.CurrentUsage(ctx, userID, feature)
	if err != nil {
		return Decision{}, err
	}
	return denied(feature, fc.Remaining, limit, cost), nil
}

// migrateAndReserve handles the one migration path that also performs
// the reservation that triggered it: a single seed write creates the
// Structured map with the triggering feature at cost and every other
// feature at zero. A concurrent migrator losing the seed race simply
// retries the normal increment against the now-Structured record.
func (l *Ledger) migrateAndReserve(ctx context.Context, userID uuid.UUID, feature Feature, cost, limit int64) (Decision, error) {
	seeded, err := l.usage.SeedStructured(ctx, userID, feature, cost)
	if err != nil {
		return Decision{}, err
	}
	if seeded {
		l.log.InfoContext(ctx, "migrated usage record to structured shape",
			slog.String("user_id", userID.String()),
			slog.String("feature", string(feature)))
		return Decision{Allowed: true, Remaining: max(0, limit-cost), MaxAllowed: limit}, nil
	}

	ok, err := l.usage.IncrementUsage(ctx, userID, feature, cost, limit)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		fc, err := l.CurrentUsage(ctx, userID, feature)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, Remaining: fc.Remaining, MaxAllowed: limit}, nil
	}

	fc, err := l.CurrentUsage(ctx, userID, feature)
	if err != nil {
		return Decision{}, err
	}
	return denied(feature, fc.Remaining, limit, cost), nil
}

// Release returns amount credits of a feature as a compensating action
// after billable work failed. It does not re-check limits and enforces
// no lower bound: releasing more than was reserved drives the counter
// negative, which reads back as extra remaining credit. A record still
// in the Legacy shape is migrated to Structured with all counters at
// zero; the legacy balance is not recoverable per feature.
func (l *Ledger) Release(ctx context.Context, userID uuid.UUID, feature Feature, amount int64) error {
	if !IsCreditFeature(feature) {
		return ErrInvalidFeature
	}
	if amount <= 0 {
		return ErrNonPositiveCost
	}

	ok, err := l.usage.DecrementUsage(ctx, userID, feature, amount)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Not Structured yet: nothing was ever reserved per feature, so the
	// refund has no counter to credit. Seed zeros so subsequent traffic
	// takes the normal path.
	seeded, err := l.usage.SeedStructured(ctx, userID, feature, 0)
	if err != nil {
		return err
	}
	if seeded {
		l.log.WarnContext(ctx, "release against non-structured usage record, reset counters to zero",
			slog.String("user_id", userID.String()),
			slog.String("feature", string(feature)))
	}
	return nil
}

// limitAndRecord resolves the user's plan limit for a feature and reads
// the usage record, the two round-trips every ledger operation starts with.
func (l *Ledger) limitAndRecord(ctx context.Context, userID uuid.UUID, feature Feature) (int64, UsageRecord, error) {
	planRef, err := l.planRef(ctx, userID)
	if err != nil {
		return 0, UsageRecord{}, err
	}

	limits, err := l.resolver.LimitsFor(ctx, planRef)
	if err != nil {
		return 0, UsageRecord{}, err
	}

	rec, err := l.usage.GetUsage(ctx, userID)
	if err != nil {
		return 0, UsageRecord{}, err
	}

	return limits.For(feature), rec, nil
}

func denied(feature Feature, remaining, limit, cost int64) Decision {
	return Decision{
		Remaining:  remaining,
		MaxAllowed: limit,
		Message:    fmt.Sprintf("insufficient %s credits: remaining %d, need %d", feature, remaining, cost),
	}
}

package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Gate answers "may this request proceed" for every metered feature.
// Credit features delegate to the Ledger's atomic reservation;
// count-based features (decks) recount owned resources against the plan
// allowance without mutating anything, since creating the resource is
// itself the state change.
type Gate struct {
	ledger   *Ledger
	resolver *Resolver
	planRef  PlanRefResolver
	counters map[Feature]ResourceCounter
}

// NewGate creates a Gate sharing the ledger's resolver and plan
// resolution. Register a ResourceCounter for each count-based feature
// at startup; registration is not safe for concurrent use.
func NewGate(ledger *Ledger) *Gate {
	if ledger == nil {
		panic("credits: Ledger is required")
	}
	return &Gate{
		ledger:   ledger,
		resolver: ledger.resolver,
		planRef:  ledger.planRef,
		counters: make(map[Feature]ResourceCounter),
	}
}

// RegisterCounter sets the ResourceCounter for a count-based feature.
// Panics if fn is nil.
func (g *Gate) RegisterCounter(f Feature, fn ResourceCounter) {
	if fn == nil {
		panic(fmt.Sprintf("credits: ResourceCounter for feature %q cannot be nil", f))
	}
	g.counters[f] = fn
}

// Evaluate decides whether a request consuming cost units of a feature
// may proceed. For credit features a successful evaluation has already
// reserved the credits; if the billable work then fails, the caller must
// compensate via Ledger.Release; the gate does not wrap the work.
func (g *Gate) Evaluate(ctx context.Context, userID uuid.UUID, feature Feature, cost int64) (Decision, error) {
	if IsCreditFeature(feature) {
		return g.ledger.Reserve(ctx, userID, feature, cost)
	}
	return g.evaluateCount(ctx, userID, feature)
}

// evaluateCount enforces a count-based cap: allowed iff the current
// owned count is below the plan limit. Idempotent recount, no counter
// mutation.
func (g *Gate) evaluateCount(ctx context.Context, userID uuid.UUID, feature Feature) (Decision, error) {
	counter, ok := g.counters[feature]
	if !ok {
		return Decision{}, ErrNoCounterRegistered
	}

	planRef, err := g.planRef(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	limits, err := g.resolver.LimitsFor(ctx, planRef)
	if err != nil {
		return Decision{}, err
	}

	limit := limits.For(feature)
	if limit == Unlimited {
		return Decision{Allowed: true, Unlimited: true, Remaining: Unlimited, MaxAllowed: Unlimited}, nil
	}

	count, err := counter(ctx, userID)
	if err != nil {
		return Decision{}, errors.Join(ErrFailedToCountResource, err)
	}

	if count >= limit {
		return Decision{
			MaxAllowed:   limit,
			CurrentCount: count,
			Message:      fmt.Sprintf("%s limit reached: %d of %d used", feature, count, limit),
		}, nil
	}

	return Decision{
		Allowed:      true,
		Remaining:    limit - count,
		MaxAllowed:   limit,
		CurrentCount: count,
	}, nil
}

package credits

import (
	"context"
	"errors"
)

// LegacyPlans maps the fixed legacy plan names to their allowances.
// Injected once at construction so the fallback table lives in exactly
// one place.
type LegacyPlans map[string]PlanLimits

// DefaultLegacyPlans returns the allowances for the historical
// {basic, pro, team} plan names.
func DefaultLegacyPlans() LegacyPlans {
	return LegacyPlans{
		"basic": {
			MaxDecks:           1,
			AIFlashcardCredits: 5,
			AIQuizCredits:      5,
			AINotesCredits:     5,
			AIAssistantCredits: 5,
		},
		"pro": {
			MaxDecks:           50,
			AIFlashcardCredits: 100,
			AIQuizCredits:      100,
			AINotesCredits:     100,
			AIAssistantCredits: 100,
		},
		"team": {
			MaxDecks:           Unlimited,
			AIFlashcardCredits: Unlimited,
			AIQuizCredits:      Unlimited,
			AINotesCredits:     Unlimited,
			AIAssistantCredits: Unlimited,
		},
	}
}

// conservativeLimits is returned when a plan reference resolves to
// nothing at all. Granting 1 of everything keeps a resolver failure from
// ever opening unbounded access.
var conservativeLimits = PlanLimits{
	MaxDecks:           1,
	AIFlashcardCredits: 1,
	AIQuizCredits:      1,
	AINotesCredits:     1,
	AIAssistantCredits: 1,
}

// Resolver translates a plan reference into effective per-feature
// allowances. Resolution order: stored plan document, legacy name table,
// conservative fallback. It has no side effects.
type Resolver struct {
	store  PlanStore
	legacy LegacyPlans
}

// NewResolver creates a Resolver. store may be nil when only legacy
// names are in play (tests, offline tools). legacy defaults to
// DefaultLegacyPlans when nil.
func NewResolver(store PlanStore, legacy LegacyPlans) *Resolver {
	if legacy == nil {
		legacy = DefaultLegacyPlans()
	}
	return &Resolver{store: store, legacy: legacy}
}

// LimitsFor returns the effective allowances for a plan reference.
// Sentinel values in stored plans are translated to Unlimited. A plan
// that cannot be found falls back to the legacy table, then to the
// conservative minimum; only transient store failures surface as errors.
func (r *Resolver) LimitsFor(ctx context.Context, planRef string) (PlanLimits, error) {
	if r.store != nil && planRef != "" {
		plan, err := r.store.FindPlanByID(ctx, planRef)
		switch {
		case err == nil:
			return translateSentinels(plan.Features), nil
		case errors.Is(err, ErrPlanNotFound):
			// fall through to the legacy table
		default:
			return PlanLimits{}, errors.Join(ErrFailedToResolvePlan, err)
		}
	}

	if limits, ok := r.legacy[planRef]; ok {
		return limits, nil
	}

	return conservativeLimits, nil
}

// translateSentinels maps the stored unlimited sentinel to Unlimited on
// every field.
func translateSentinels(l PlanLimits) PlanLimits {
	return PlanLimits{
		MaxDecks:           desentinel(l.MaxDecks),
		AIFlashcardCredits: desentinel(l.AIFlashcardCredits),
		AIQuizCredits:      desentinel(l.AIQuizCredits),
		AINotesCredits:     desentinel(l.AINotesCredits),
		AIAssistantCredits: desentinel(l.AIAssistantCredits),
	}
}

func desentinel(v int64) int64 {
	if v >= UnlimitedSentinel {
		return Unlimited
	}
	return v
}

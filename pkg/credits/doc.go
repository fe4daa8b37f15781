// Package credits implements per-user, per-feature credit accounting for
// metered capabilities gated by a subscription plan.
//
// The package answers one question, "may this request proceed?", for
// five metered features: AI flashcard generation, AI quiz generation,
// AI notes generation, AI study-assistant calls, and deck count. The
// first four consume credits through an atomic reserve/release ledger;
// deck capacity is enforced by recounting owned decks against the plan
// allowance.
//
// # Architecture
//
//   - Resolver translates a plan reference (a stored plan document id or
//     a legacy plan name) into effective per-feature allowances,
//     translating the stored unlimited sentinel into Unlimited.
//   - Ledger is the reserve/release primitive. All concurrent-safety is
//     pushed down to the UsageStore's conditional updates: the final
//     increment re-checks "used + cost <= limit" as its storage-level
//     predicate, so racing reservations cannot overdraw a quota.
//   - Gate orchestrates both: credit features delegate to the ledger,
//     count-based features compare a ResourceCounter against the limit.
//
// # Usage record migration
//
// User usage records exist in two on-disk shapes: a legacy single
// "credits remaining" scalar, and the structured per-feature map the
// ledger operates on. Records are decoded into an explicit tagged
// UsageRecord, and migration is its own atomic migrate-if-not-structured
// write that seeds the triggering feature with its reservation cost. A
// concurrent migrator that loses the seed race finds the record already
// Structured and retries the normal increment path.
//
// The legacy scalar carries no per-feature breakdown, so migration
// cannot recover historical usage: all non-triggering features start at
// zero.
//
// # Caller contract
//
//	decision, err := gate.Evaluate(ctx, userID, credits.FeatureAIQuizzes, 1)
//	if err != nil { ... }                 // storage failure, 500-equivalent
//	if !decision.Allowed { ... }          // quota denial, 403-equivalent
//
//	if err := doBillableWork(ctx); err != nil {
//		// compensate: the gate does not wrap the work
//		_ = ledger.Release(ctx, userID, credits.FeatureAIQuizzes, 1)
//	}
package credits

package credits

// Feature identifies a metered capability gated by a subscription plan.
type Feature string

const (
	FeatureAIFlashcards Feature = "aiFlashcards"
	FeatureAIQuizzes    Feature = "aiQuizzes"
	FeatureAINotes      Feature = "aiNotes"
	FeatureAIAssistant  Feature = "aiAssistant"
	FeatureDecks        Feature = "decks"
)

const (
	// Unlimited represents a feature with no limit (-1).
	Unlimited int64 = -1

	// UnlimitedSentinel is the literal stored in plan documents to mean
	// "no limit". Resolvers translate it to Unlimited before anything
	// else sees it.
	UnlimitedSentinel int64 = 999999
)

// CreditFeatures lists the features consumed through the ledger.
// FeatureDecks is deliberately absent: deck capacity is enforced by
// recounting owned decks, not by a used-counter.
func CreditFeatures() []Feature {
	return []Feature{FeatureAIFlashcards, FeatureAIQuizzes, FeatureAINotes, FeatureAIAssistant}
}

// IsCreditFeature reports whether f is consumed through the ledger.
func IsCreditFeature(f Feature) bool {
	switch f {
	case FeatureAIFlashcards, FeatureAIQuizzes, FeatureAINotes, FeatureAIAssistant:
		return true
	}
	return false
}

// PlanLimits holds the effective allowance per feature after sentinel
// translation. A value of Unlimited means no cap.
type PlanLimits struct {
	MaxDecks           int64 `json:"maxDecks" bson:"maxDecks"`
	AIFlashcardCredits int64 `json:"aiFlashcardCredits" bson:"aiFlashcardCredits"`
	AIQuizCredits      int64 `json:"aiQuizCredits" bson:"aiQuizCredits"`
	AINotesCredits     int64 `json:"aiNotesCredits" bson:"aiNotesCredits"`
	AIAssistantCredits int64 `json:"aiAssistantCredits" bson:"aiAssistantCredits"`
}

// For returns the allowance for a single feature.
func (l PlanLimits) For(f Feature) int64 {
	switch f {
	case FeatureAIFlashcards:
		return l.AIFlashcardCredits
	case FeatureAIQuizzes:
		return l.AIQuizCredits
	case FeatureAINotes:
		return l.AINotesCredits
	case FeatureAIAssistant:
		return l.AIAssistantCredits
	case FeatureDecks:
		return l.MaxDecks
	}
	return 0
}

// Plan is a stored plan document. Limits carry the raw values as stored,
// including the unlimited sentinel.
type Plan struct {
	ID       string     `json:"id" bson:"_id"`
	Name     string     `json:"name" bson:"name"`
	Features PlanLimits `json:"features" bson:"features"`
}

// UsageShape tags the on-disk representation of a user's usage record.
type UsageShape int

const (
	// ShapeAbsent means the user has never consumed a metered feature.
	ShapeAbsent UsageShape = iota
	// ShapeLegacy is the old single-counter representation: one scalar
	// "credits remaining" with no per-feature breakdown.
	ShapeLegacy
	// ShapeStructured is the per-feature used-counter map.
	ShapeStructured
)

// UsageRecord is the decoded usage field of a user document. Exactly one
// representation is meaningful, selected by Shape.
type UsageRecord struct {
	Shape UsageShape

	// LegacyCredits is the remaining scalar balance; valid only for ShapeLegacy.
	LegacyCredits int64

	// Used maps feature to consumed count; valid only for ShapeStructured.
	Used map[Feature]int64
}

// UsedFor returns the consumed count for a feature, treating Legacy and
// Absent records as zero usage.
func (r UsageRecord) UsedFor(f Feature) int64 {
	if r.Shape != ShapeStructured {
		return 0
	}
	return r.Used[f]
}

// FeatureCredits is the derived balance for one user/feature pair.
// It is computed on read and never stored.
type FeatureCredits struct {
	Feature   Feature `json:"feature"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Remaining int64   `json:"remaining"`
	Unlimited bool    `json:"unlimited"`
}

// newFeatureCredits derives the balance from a used count and a limit
// (already sentinel-translated). Remaining is clamped at zero so an
// over-consumed counter never reports negative credit.
func newFeatureCredits(f Feature, used, limit int64) FeatureCredits {
	fc := FeatureCredits{Feature: f, Used: used, Limit: limit}
	if limit == Unlimited {
		fc.Unlimited = true
		return fc
	}
	fc.Remaining = max(0, limit-used)
	return fc
}

// Decision is the outcome of a quota evaluation. Denial is a normal
// business outcome, not an error.
type Decision struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int64 `json:"remaining"`
	Unlimited  bool  `json:"unlimited"`
	MaxAllowed int64 `json:"maxAllowed"`

	// CurrentCount is set only for count-based features (decks).
	CurrentCount int64 `json:"currentCount,omitempty"`

	// Message explains a denial in user-facing terms; empty when allowed.
	Message string `json:"message,omitempty"`
}

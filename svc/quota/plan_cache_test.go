package quota_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
	"github.com/mbrainaly/flashcard-backend/svc/quota"
)

func TestPlanCachePassthrough(t *testing.T) {
	t.Parallel()

	// A nil redis client disables caching entirely; lookups and misses
	// behave exactly like the inner store.
	store := credits.NewMemoryStore()
	store.AddPlan(credits.Plan{
		ID:       "plan_growth",
		Name:     "Growth",
		Features: credits.PlanLimits{AIQuizCredits: 40},
	})

	cache := quota.NewPlanCache(store, nil, 0, slog.New(slog.DiscardHandler))

	plan, err := cache.FindPlanByID(context.Background(), "plan_growth")
	require.NoError(t, err)
	assert.Equal(t, "Growth", plan.Name)
	assert.Equal(t, int64(40), plan.Features.AIQuizCredits)

	_, err = cache.FindPlanByID(context.Background(), "missing")
	assert.ErrorIs(t, err, credits.ErrPlanNotFound)
}

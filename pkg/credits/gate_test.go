package credits_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

func newTestGate(t *testing.T, planRef string) (*credits.Gate, *credits.MemoryStore, uuid.UUID) {
	t.Helper()

	store := credits.NewMemoryStore()
	userID := uuid.New()
	store.AddUser(userID, planRef)

	resolver := credits.NewResolver(store, nil)
	ledger := credits.NewLedger(store, resolver, store.PlanRef, slog.New(slog.DiscardHandler))
	return credits.NewGate(ledger), store, userID
}

// staticCounter returns a ResourceCounter backed by an atomic value so
// tests can simulate deck creation between evaluations.
func staticCounter(n *atomic.Int64) credits.ResourceCounter {
	return func(ctx context.Context, userID uuid.UUID) (int64, error) {
		return n.Load(), nil
	}
}

func TestGateEvaluate(t *testing.T) {
	t.Parallel()

	t.Run("credit features delegate to the ledger", func(t *testing.T) {
		t.Parallel()

		gate, store, userID := newTestGate(t, "basic")

		dec, err := gate.Evaluate(context.Background(), userID, credits.FeatureAIQuizzes, 1)

		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, int64(4), dec.Remaining)
		assert.Equal(t, int64(1), store.UsedCount(userID, credits.FeatureAIQuizzes))
	})

	t.Run("deck cap allows below limit then denies at limit", func(t *testing.T) {
		t.Parallel()

		gate, _, userID := newTestGate(t, "basic")

		var decks atomic.Int64
		gate.RegisterCounter(credits.FeatureDecks, staticCounter(&decks))

		// basic allows 1 deck; user owns 0
		dec, err := gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)
		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.Equal(t, int64(0), dec.CurrentCount)
		assert.Equal(t, int64(1), dec.MaxAllowed)

		// first deck created; re-evaluation denies
		decks.Store(1)
		dec, err = gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)
		require.NoError(t, err)
		assert.False(t, dec.Allowed)
		assert.Equal(t, int64(1), dec.CurrentCount)
		assert.Equal(t, int64(1), dec.MaxAllowed)
		assert.Contains(t, dec.Message, "decks limit reached")
	})

	t.Run("deck evaluation never mutates the usage record", func(t *testing.T) {
		t.Parallel()

		gate, store, userID := newTestGate(t, "basic")

		var decks atomic.Int64
		gate.RegisterCounter(credits.FeatureDecks, staticCounter(&decks))

		for range 3 {
			_, err := gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)
			require.NoError(t, err)
		}

		assert.Equal(t, credits.ShapeAbsent, store.Shape(userID))
	})

	t.Run("unlimited deck allowance skips the count entirely", func(t *testing.T) {
		t.Parallel()

		gate, _, userID := newTestGate(t, "team")

		gate.RegisterCounter(credits.FeatureDecks, func(ctx context.Context, userID uuid.UUID) (int64, error) {
			t.Fatal("counter must not run for unlimited plans")
			return 0, nil
		})

		dec, err := gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)

		require.NoError(t, err)
		assert.True(t, dec.Allowed)
		assert.True(t, dec.Unlimited)
	})

	t.Run("missing counter registration is an error", func(t *testing.T) {
		t.Parallel()

		gate, _, userID := newTestGate(t, "basic")

		_, err := gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)

		assert.ErrorIs(t, err, credits.ErrNoCounterRegistered)
	})

	t.Run("counter failure is wrapped, not a denial", func(t *testing.T) {
		t.Parallel()

		gate, _, userID := newTestGate(t, "basic")

		countErr := errors.New("aggregation timed out")
		gate.RegisterCounter(credits.FeatureDecks, func(ctx context.Context, userID uuid.UUID) (int64, error) {
			return 0, countErr
		})

		_, err := gate.Evaluate(context.Background(), userID, credits.FeatureDecks, 1)

		require.Error(t, err)
		assert.ErrorIs(t, err, credits.ErrFailedToCountResource)
		assert.ErrorIs(t, err, countErr)
	})
}

package quota_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
	"github.com/mbrainaly/flashcard-backend/svc/quota"
)

type testEnv struct {
	srv    *httptest.Server
	store  *credits.MemoryStore
	ledger *credits.Ledger
	userID uuid.UUID
}

func newTestEnv(t *testing.T, planRef string, deckCount int64) *testEnv {
	t.Helper()

	store := credits.NewMemoryStore()
	userID := uuid.New()
	store.AddUser(userID, planRef)

	log := slog.New(slog.DiscardHandler)
	resolver := credits.NewResolver(store, nil)
	ledger := credits.NewLedger(store, resolver, store.PlanRef, log)
	gate := credits.NewGate(ledger)
	gate.RegisterCounter(credits.FeatureDecks, func(ctx context.Context, userID uuid.UUID) (int64, error) {
		return deckCount, nil
	})
	tracker := credits.NewActivityTracker(credits.NewMemoryActivityStore(), nil, log)

	handler := quota.NewHandler(ledger, gate, tracker, log)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, ledger: ledger, userID: userID}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandlerUsage(t *testing.T) {
	t.Parallel()

	t.Run("all usage for a fresh user", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.get(t, "/users/"+env.userID.String()+"/usage")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[struct {
			Credits  map[credits.Feature]credits.FeatureCredits `json:"credits"`
			Activity map[credits.ActivityKind]int64             `json:"activity"`
		}](t, resp)

		require.Len(t, body.Credits, 4)
		assert.Equal(t, int64(5), body.Credits[credits.FeatureAIQuizzes].Remaining)
		assert.Equal(t, int64(0), body.Activity[credits.ActivityQuizzesGenerated])
	})

	t.Run("single feature usage", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "pro", 0)

		dec, err := env.ledger.Reserve(context.Background(), env.userID, credits.FeatureAINotes, 30)
		require.NoError(t, err)
		require.True(t, dec.Allowed)

		resp := env.get(t, "/users/"+env.userID.String()+"/usage/aiNotes")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		fc := decodeBody[credits.FeatureCredits](t, resp)
		assert.Equal(t, int64(30), fc.Used)
		assert.Equal(t, int64(70), fc.Remaining)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.get(t, "/users/"+uuid.NewString()+"/usage")

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("malformed user id is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.get(t, "/users/not-a-uuid/usage")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("invalid feature is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.get(t, "/users/"+env.userID.String()+"/usage/teleportation")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestHandlerEvaluate(t *testing.T) {
	t.Parallel()

	t.Run("allowed reservation returns the decision", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.post(t, "/users/"+env.userID.String()+"/evaluate", `{"feature":"aiQuizzes","cost":1}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		dec := decodeBody[credits.Decision](t, resp)
		assert.True(t, dec.Allowed)
		assert.Equal(t, int64(4), dec.Remaining)
		assert.Equal(t, int64(1), env.store.UsedCount(env.userID, credits.FeatureAIQuizzes))
	})

	t.Run("exhausted quota is 403 with the denial decision", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)
		ctx := context.Background()

		for range 5 {
			dec, err := env.ledger.Reserve(ctx, env.userID, credits.FeatureAIQuizzes, 1)
			require.NoError(t, err)
			require.True(t, dec.Allowed)
		}

		resp := env.post(t, "/users/"+env.userID.String()+"/evaluate", `{"feature":"aiQuizzes","cost":1}`)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		dec := decodeBody[credits.Decision](t, resp)
		assert.False(t, dec.Allowed)
		assert.Contains(t, dec.Message, "remaining 0")
	})

	t.Run("deck gate denies at the plan cap", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 1) // basic allows 1 deck, user owns 1

		resp := env.post(t, "/users/"+env.userID.String()+"/evaluate", `{"feature":"decks"}`)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		dec := decodeBody[credits.Decision](t, resp)
		assert.Equal(t, int64(1), dec.CurrentCount)
		assert.Equal(t, int64(1), dec.MaxAllowed)
	})

	t.Run("garbage body is 400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, "basic", 0)

		resp := env.post(t, "/users/"+env.userID.String()+"/evaluate", `{"feature":`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestHandlerRelease(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "basic", 0)
	ctx := context.Background()

	dec, err := env.ledger.Reserve(ctx, env.userID, credits.FeatureAIAssistant, 2)
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	resp := env.post(t, "/users/"+env.userID.String()+"/release", `{"feature":"aiAssistant","amount":2}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, int64(0), env.store.UsedCount(env.userID, credits.FeatureAIAssistant))
}

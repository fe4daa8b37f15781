package generation_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
	"github.com/mbrainaly/flashcard-backend/svc/generation"
)

type stubClient struct {
	content string
	err     error
	calls   int
}

func (c *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.calls++
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: c.content}},
		},
	}, nil
}

func newTestService(t *testing.T, planRef string, client *stubClient) (*generation.Service, *credits.MemoryStore, uuid.UUID) {
	t.Helper()

	store := credits.NewMemoryStore()
	userID := uuid.New()
	store.AddUser(userID, planRef)

	log := slog.New(slog.DiscardHandler)
	resolver := credits.NewResolver(store, nil)
	ledger := credits.NewLedger(store, resolver, store.PlanRef, log)
	gate := credits.NewGate(ledger)
	tracker := credits.NewActivityTracker(credits.NewMemoryActivityStore(), nil, log)

	return generation.NewService(client, "test-model", gate, ledger, tracker, log), store, userID
}

func TestGenerateQuiz(t *testing.T) {
	t.Parallel()

	t.Run("successful generation consumes one credit", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: `[{"question":"2+2?","options":["3","4"],"answer":1}]`}
		svc, store, userID := newTestService(t, "basic", client)

		questions, err := svc.GenerateQuiz(context.Background(), userID, "arithmetic", 1)

		require.NoError(t, err)
		require.Len(t, questions, 1)
		assert.Equal(t, "2+2?", questions[0].Question)
		assert.Equal(t, int64(1), store.UsedCount(userID, credits.FeatureAIQuizzes))
	})

	t.Run("fenced JSON is accepted", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: "```json\n[{\"question\":\"q\",\"options\":[\"a\"],\"answer\":0}]\n```"}
		svc, _, userID := newTestService(t, "basic", client)

		questions, err := svc.GenerateQuiz(context.Background(), userID, "anything", 1)

		require.NoError(t, err)
		assert.Len(t, questions, 1)
	})

	t.Run("provider failure refunds the reservation", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{err: errors.New("upstream 502")}
		svc, store, userID := newTestService(t, "basic", client)

		_, err := svc.GenerateQuiz(context.Background(), userID, "history", 3)

		require.Error(t, err)
		assert.Equal(t, int64(0), store.UsedCount(userID, credits.FeatureAIQuizzes))
	})

	t.Run("malformed response refunds the reservation", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: "Sure! Here is your quiz: ..."}
		svc, store, userID := newTestService(t, "basic", client)

		_, err := svc.GenerateQuiz(context.Background(), userID, "history", 3)

		require.Error(t, err)
		assert.ErrorIs(t, err, generation.ErrMalformedResponse)
		assert.Equal(t, int64(0), store.UsedCount(userID, credits.FeatureAIQuizzes))
	})

	t.Run("exhausted quota never reaches the provider", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: `[]`}
		svc, store, userID := newTestService(t, "basic", client)
		ctx := context.Background()

		for range 5 {
			_, err := svc.GenerateQuiz(ctx, userID, "loop", 1)
			require.NoError(t, err)
		}
		require.Equal(t, 5, client.calls)

		_, err := svc.GenerateQuiz(ctx, userID, "one too many", 1)

		require.Error(t, err)
		assert.ErrorIs(t, err, generation.ErrQuotaExceeded)
		assert.Equal(t, 5, client.calls)
		assert.Equal(t, int64(5), store.UsedCount(userID, credits.FeatureAIQuizzes))
	})
}

func TestGenerateNotes(t *testing.T) {
	t.Parallel()

	t.Run("returns the completion and consumes a notes credit", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: "# Notes\n- point"}
		svc, store, userID := newTestService(t, "pro", client)

		notes, err := svc.GenerateNotes(context.Background(), userID, "long source text")

		require.NoError(t, err)
		assert.Contains(t, notes, "# Notes")
		assert.Equal(t, int64(1), store.UsedCount(userID, credits.FeatureAINotes))
	})

	t.Run("empty completion refunds", func(t *testing.T) {
		t.Parallel()

		client := &stubClient{content: "   "}
		svc, store, userID := newTestService(t, "pro", client)

		_, err := svc.GenerateNotes(context.Background(), userID, "source")

		assert.ErrorIs(t, err, generation.ErrEmptyCompletion)
		assert.Equal(t, int64(0), store.UsedCount(userID, credits.FeatureAINotes))
	})
}

func TestAssistUnlimitedPlan(t *testing.T) {
	t.Parallel()

	client := &stubClient{content: "the mitochondria is the powerhouse of the cell"}
	svc, store, userID := newTestService(t, "team", client)

	answer, err := svc.Assist(context.Background(), userID, "what is the mitochondria?")

	require.NoError(t, err)
	assert.NotEmpty(t, answer)
	// unlimited plans never touch the stored counter
	assert.Equal(t, credits.ShapeAbsent, store.Shape(userID))
}

// Package generation wraps the AI completion provider behind the credit
// gate. It is the canonical caller of the quota contract: evaluate
// before the provider call, compensate with a release when the call or
// its response parsing fails. The prompt construction itself is thin.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/mbrainaly/flashcard-backend/pkg/credits"
)

// Errors returned by the generation service.
var (
	ErrQuotaExceeded     = errors.New("generation.errors.quota_exceeded")
	ErrEmptyCompletion   = errors.New("generation.errors.empty_completion")
	ErrMalformedResponse = errors.New("generation.errors.malformed_response")
)

// Default credit costs per operation. Callers of the credit subsystem
// decide what an operation costs; these are this service's choices.
const (
	FlashcardCost = 1
	QuizCost      = 1
	NotesCost     = 1
	AssistantCost = 1
)

// Config holds the completion provider settings.
type Config struct {
	APIKey string `env:"OPENAI_API_KEY,required"`
	Model  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

// CompletionClient is the subset of the OpenAI client the service uses.
// *openai.Client satisfies it; tests substitute a stub.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Flashcard is one generated front/back pair.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// QuizQuestion is one generated multiple-choice question. Answer indexes
// into Options.
type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

// Service generates study material through the completion provider,
// consuming feature credits per call.
type Service struct {
	client  CompletionClient
	model   string
	gate    *credits.Gate
	ledger  *credits.Ledger
	tracker *credits.ActivityTracker
	log     *slog.Logger
}

// NewService creates a Service. tracker may be nil to skip monthly
// activity counting.
func NewService(client CompletionClient, model string, gate *credits.Gate, ledger *credits.Ledger, tracker *credits.ActivityTracker, log *slog.Logger) *Service {
	if client == nil {
		panic("generation: CompletionClient is required")
	}
	if gate == nil {
		panic("generation: Gate is required")
	}
	if ledger == nil {
		panic("generation: Ledger is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, model: model, gate: gate, ledger: ledger, tracker: tracker, log: log}
}

// GenerateFlashcards produces count front/back pairs about topic.
func (s *Service) GenerateFlashcards(ctx context.Context, userID uuid.UUID, topic string, count int) ([]Flashcard, error) {
	prompt := fmt.Sprintf(
		"Create %d study flashcards about %q. Respond with a JSON array of objects with \"front\" and \"back\" string fields and nothing else.",
		count, topic)

	var cards []Flashcard
	err := s.completeJSON(ctx, userID, credits.FeatureAIFlashcards, FlashcardCost, prompt, &cards)
	if err != nil {
		return nil, err
	}
	return cards, nil
}

// GenerateQuiz produces count multiple-choice questions about topic.
func (s *Service) GenerateQuiz(ctx context.Context, userID uuid.UUID, topic string, count int) ([]QuizQuestion, error) {
	prompt := fmt.Sprintf(
		"Create a %d-question multiple choice quiz about %q. Respond with a JSON array of objects with a \"question\" string, an \"options\" string array, and an \"answer\" index into options, and nothing else.",
		count, topic)

	var questions []QuizQuestion
	err := s.completeJSON(ctx, userID, credits.FeatureAIQuizzes, QuizCost, prompt, &questions)
	if err != nil {
		return nil, err
	}
	if s.tracker != nil {
		s.tracker.Record(ctx, userID, credits.ActivityQuizzesGenerated, int64(len(questions)))
	}
	return questions, nil
}

// GenerateNotes summarizes source material into study notes.
func (s *Service) GenerateNotes(ctx context.Context, userID uuid.UUID, source string) (string, error) {
	prompt := "Summarize the following material into concise study notes in markdown:\n\n" + source

	notes, err := s.complete(ctx, userID, credits.FeatureAINotes, NotesCost, prompt)
	if err != nil {
		return "", err
	}
	if s.tracker != nil {
		s.tracker.Record(ctx, userID, credits.ActivityNotesGenerated, 1)
	}
	return notes, nil
}

// Assist answers a free-form study question.
func (s *Service) Assist(ctx context.Context, userID uuid.UUID, question string) (string, error) {
	return s.complete(ctx, userID, credits.FeatureAIAssistant, AssistantCost, question)
}

// complete reserves credits, runs the completion, and refunds the
// reservation when the provider call fails or returns nothing usable.
func (s *Service) complete(ctx context.Context, userID uuid.UUID, feature credits.Feature, cost int64, prompt string) (string, error) {
	dec, err := s.gate.Evaluate(ctx, userID, feature, cost)
	if err != nil {
		return "", err
	}
	if !dec.Allowed {
		return "", errors.Join(ErrQuotaExceeded, errors.New(dec.Message))
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a study assistant for a flashcard application."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		s.refund(ctx, userID, feature, cost)
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		s.refund(ctx, userID, feature, cost)
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// completeJSON runs complete and parses the completion as JSON into v,
// refunding when the model did not produce the requested structure.
func (s *Service) completeJSON(ctx context.Context, userID uuid.UUID, feature credits.Feature, cost int64, prompt string, v any) error {
	content, err := s.complete(ctx, userID, feature, cost, prompt)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), v); err != nil {
		s.refund(ctx, userID, feature, cost)
		return errors.Join(ErrMalformedResponse, err)
	}
	return nil
}

// refund is best-effort compensation: a failed release is logged but
// never re-fails the request, which already failed for its own reason.
func (s *Service) refund(ctx context.Context, userID uuid.UUID, feature credits.Feature, cost int64) {
	if err := s.ledger.Release(ctx, userID, feature, cost); err != nil {
		s.log.ErrorContext(ctx, "failed to refund credits",
			slog.String("user_id", userID.String()),
			slog.String("feature", string(feature)),
			slog.Int64("amount", cost),
			slog.Any("error", err))
	}
}

// stripCodeFence removes a markdown code fence the model sometimes wraps
// JSON output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Package synth turns raw capability output into the final answer
// shown to the user. Text generation is delegated to the language
// model; this package only chooses and fills the prompt.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/majordomo/internal/capability"
	"github.com/nugget/majordomo/internal/llm"
	"github.com/nugget/majordomo/internal/prompts"
)

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Synthesizer writes user-facing answers.
type Synthesizer struct {
	logger  *slog.Logger
	llm     llm.Client
	model   string
	timeout time.Duration
	now     func() time.Time
}

// New creates a Synthesizer that uses model for every answer.
func New(logger *slog.Logger, client llm.Client, model string, timeout time.Duration) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		logger:  logger,
		llm:     client,
		model:   model,
		timeout: timeout,
		now:     time.Now,
	}
}

// Prompt returns the synthesis prompt for output of kind.
func Prompt(kind capability.Kind, raw, instruction string, now time.Time) string {
	switch kind {
	case capability.GetWeatherForecast:
		return prompts.WeatherPrompt(raw, instruction)
	case capability.GetDailyCalendar, capability.SummarizeRecentEmails:
		return prompts.PersonalPrompt(raw, instruction)
	case capability.CompileNewsReports:
		return prompts.NewsPrompt(now, raw, instruction)
	default:
		return prompts.GenericPrompt(raw, instruction)
	}
}

// Detail returns the execution detail reported after synthesizing
// output of kind.
func Detail(kind capability.Kind) string {
	switch kind {
	case capability.GetWeatherForecast:
		return "Weather service queried"
	case capability.CompileNewsReports:
		return "Comparative news review completed"
	default:
		return "Source: " + string(kind)
	}
}

// Synthesize combines raw capability output with the user's
// instruction into a final answer.
func (s *Synthesizer) Synthesize(ctx context.Context, kind capability.Kind, raw, instruction string) (string, error) {
	prompt := Prompt(kind, raw, instruction, s.now())
	answer, err := s.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize %s: %w", kind, err)
	}
	return answer, nil
}

// Direct answers instruction with no capability data and no tools.
// It serves the GENERAL category.
func (s *Synthesizer) Direct(ctx context.Context, instruction string) (string, error) {
	answer, err := s.complete(ctx, instruction)
	if err != nil {
		return "", fmt.Errorf("general answer: %w", err)
	}
	return answer, nil
}

func (s *Synthesizer) complete(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.llm.Chat(ctx, s.model, []llm.Message{llm.User(prompt)}, nil)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Message.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	s.logger.Debug("answer synthesized",
		"model", s.model,
		"prompt_len", len(prompt),
		"answer_len", len(answer),
	)
	return answer, nil
}

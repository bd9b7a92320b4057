// Package usecase orchestrates the translation decision for one inbound
// chat message.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"chat-translator/internal/domain"
	"chat-translator/internal/invoker"
	"chat-translator/internal/memory"
)

const (
	DefaultRequestTimeout = 90 * time.Second
	commitTimeout         = 5 * time.Second
)

type MessageFilter interface {
	ShouldConsider(text string) bool
}

type Conversations interface {
	Acquire(ctx context.Context, id string) (*memory.Conversation, error)
}

type Invoker interface {
	Invoke(ctx context.Context, text string, history []domain.Turn) domain.Outcome
}

// Stats counts outcomes since process start.
type Stats struct {
	Received      int64 `json:"received"`
	Translated    int64 `json:"translated"`
	NoTranslation int64 `json:"noTranslation"`
	Failed        int64 `json:"failed"`
}

type TranslateService struct {
	filter        MessageFilter
	conversations Conversations
	invoker       Invoker
	timeout       time.Duration
	logger        *slog.Logger

	received      atomic.Int64
	translated    atomic.Int64
	noTranslation atomic.Int64
	failed        atomic.Int64
}

func NewTranslateService(f MessageFilter, c Conversations, inv Invoker, timeout time.Duration, logger *slog.Logger) (*TranslateService, error) {
	if f == nil {
		return nil, errors.New("usecase: message filter must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: conversations must not be nil")
	}
	if inv == nil {
		return nil, errors.New("usecase: invoker must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TranslateService{
		filter:        f,
		conversations: c,
		invoker:       inv,
		timeout:       timeout,
		logger:        logger.With("component", "translate"),
	}, nil
}

// Translate decides whether msg needs a translation and returns the
// outcome. The only error is INVALID_INPUT for a message without a
// conversation id; every other failure is a Failed outcome.
func (s *TranslateService) Translate(ctx context.Context, msg domain.Message) (domain.Outcome, error) {
	convID := strings.TrimSpace(msg.ConversationID)
	if convID == "" {
		return domain.Outcome{}, domain.NewError(domain.ErrorInvalidInput, "empty_conversation_id", nil)
	}
	s.received.Add(1)
	logger := s.logger.With("conversation_id", convID)

	if msg.IsBot || !s.filter.ShouldConsider(msg.Text) {
		logger.Debug("message filtered", "is_bot", msg.IsBot)
		return s.record(domain.NoTranslation()), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conv, err := s.conversations.Acquire(ctx, convID)
	if err != nil {
		logger.Warn("conversation wait aborted", "err", err)
		return s.record(domain.Failed(domain.ReasonRateLimited,
			domain.NewError(domain.ErrorRateLimited, "conversation_wait", err))), nil
	}
	defer conv.Release()

	if err := conv.WaitTurn(ctx); err != nil {
		logger.Warn("rate limit wait aborted", "err", err)
		return s.record(domain.Failed(domain.ReasonRateLimited,
			domain.NewError(domain.ErrorRateLimited, "rate_limit_wait", err))), nil
	}

	outcome := s.invoker.Invoke(ctx, msg.Text, conv.History())

	exchange := domain.Exchange{User: invoker.UserTurn(msg.Text), Outcome: outcome.Kind}
	switch outcome.Kind {
	case domain.OutcomeTranslated:
		exchange.Assistant = &domain.Turn{Role: domain.RoleAssistant, Content: outcome.Text}
	case domain.OutcomeNoTranslation:
	default:
		logger.Error("translation failed", "reason", outcome.Reason, "err", outcome.Err)
		return s.record(outcome), nil
	}

	// The store write must not be cut short by the per-message deadline
	// once the outcome is known.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer commitCancel()
	if err := conv.Commit(commitCtx, exchange); err != nil {
		logger.Warn("history write-through failed", "err", err)
	}

	logger.Info("message resolved", "outcome", outcome.Kind)
	return s.record(outcome), nil
}

// Stats returns a snapshot of the outcome counters.
func (s *TranslateService) Stats() Stats {
	return Stats{
		Received:      s.received.Load(),
		Translated:    s.translated.Load(),
		NoTranslation: s.noTranslation.Load(),
		Failed:        s.failed.Load(),
	}
}

func (s *TranslateService) record(outcome domain.Outcome) domain.Outcome {
	switch outcome.Kind {
	case domain.OutcomeTranslated:
		s.translated.Add(1)
	case domain.OutcomeNoTranslation:
		s.noTranslation.Add(1)
	case domain.OutcomeFailed:
		s.failed.Add(1)
	}
	return outcome
}

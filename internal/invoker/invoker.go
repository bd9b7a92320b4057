// Package invoker performs the remote translation decision for one message:
// it builds the provider request, retries transient failures with backoff
// and interprets the reply.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chat-translator/internal/clock"
	"chat-translator/internal/domain"
)

const (
	DefaultRetries      = 2
	DefaultBackoffBase  = time.Second
	DefaultBackoffStep  = time.Second
	DefaultThrottleBase = 20 * time.Second
	DefaultThrottleStep = 10 * time.Second
)

// Provider is the chat completion capability the invoker depends on.
// *openai.Client satisfies it.
type Provider interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int

	// Retries is the number of attempts after the first one.
	Retries      int
	BackoffBase  time.Duration
	BackoffStep  time.Duration
	ThrottleBase time.Duration
	ThrottleStep time.Duration

	Sentinel string
	// Structured requests a JSON object reply instead of the bare sentinel.
	Structured bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultOptions returns the production retry and backoff schedule for
// model.
func DefaultOptions(model string) Options {
	return Options{
		Model:        model,
		Temperature:  0.1,
		MaxTokens:    100,
		Retries:      DefaultRetries,
		BackoffBase:  DefaultBackoffBase,
		BackoffStep:  DefaultBackoffStep,
		ThrottleBase: DefaultThrottleBase,
		ThrottleStep: DefaultThrottleStep,
		Sentinel:     DefaultSentinel,
	}
}

type Invoker struct {
	provider Provider
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
}

func New(provider Provider, opts Options) (*Invoker, error) {
	if provider == nil {
		return nil, errors.New("invoker: provider must not be nil")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("invoker: model must not be empty")
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("invoker: retries must not be negative, got %d", opts.Retries)
	}
	for name, d := range map[string]time.Duration{
		"backoff base":  opts.BackoffBase,
		"backoff step":  opts.BackoffStep,
		"throttle base": opts.ThrottleBase,
		"throttle step": opts.ThrottleStep,
	} {
		if d < 0 {
			return nil, fmt.Errorf("invoker: %s must not be negative", name)
		}
	}
	opts.Sentinel = strings.TrimSpace(opts.Sentinel)
	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Invoker{
		provider: provider,
		opts:     opts,
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "invoker"),
	}, nil
}

// SystemPrompt returns the instruction this invoker's replies are
// interpreted against.
func (i *Invoker) SystemPrompt() string {
	return SystemPrompt(i.opts.Sentinel, i.opts.Structured)
}

// Invoke asks the provider whether text needs translating, given the
// conversation history (system turn first). It never mutates history and
// never returns an error: every failure is folded into a Failed outcome.
func (i *Invoker) Invoke(ctx context.Context, text string, history []domain.Turn) domain.Outcome {
	turns := make([]domain.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, UserTurn(text))
	req := domain.ChatRequest{
		Model:       i.opts.Model,
		Turns:       turns,
		Temperature: i.opts.Temperature,
		MaxTokens:   i.opts.MaxTokens,
		JSONObject:  i.opts.Structured,
	}

	var (
		lastErr          error
		malformedRetried bool
	)
	for attempt := 0; attempt <= i.opts.Retries; attempt++ {
		if ctx.Err() != nil {
			return cancelled(ctx, lastErr)
		}

		raw, err := i.provider.Chat(ctx, req)
		if err == nil {
			if outcome, ok := i.interpret(raw); ok {
				return outcome
			}
			err = fmt.Errorf("invoker: reply %q: %w", truncate(raw, 80), domain.ErrEmptyCompletion)
		}
		if ctx.Err() != nil {
			return cancelled(ctx, err)
		}
		lastErr = err

		kind := classify(err)
		switch kind {
		case failurePermanent:
			i.logger.Warn("provider rejected request", "attempt", attempt+1, "err", err)
			return domain.Failed(domain.ReasonProviderError,
				domain.NewError(domain.ErrorUpstream, "non-retryable provider error", err))
		case failureMalformed:
			if malformedRetried {
				return domain.Failed(domain.ReasonExhaustedRetries,
					domain.NewError(domain.ErrorMalformedResponse, "malformed reply after retry", err))
			}
			malformedRetried = true
		}

		if attempt == i.opts.Retries {
			break
		}
		delay := i.backoff(kind, attempt)
		i.logger.Warn("provider call failed, backing off",
			"attempt", attempt+1,
			"max_attempts", i.opts.Retries+1,
			"throttled", kind == failureThrottled,
			"delay", delay,
			"err", err,
		)
		select {
		case <-i.clock.After(delay):
		case <-ctx.Done():
			return cancelled(ctx, err)
		}
	}

	code := domain.ErrorExhausted
	if classify(lastErr) == failureThrottled {
		code = domain.ErrorThrottled
	}
	return domain.Failed(domain.ReasonExhaustedRetries,
		domain.NewError(code, fmt.Sprintf("%d attempts failed", i.opts.Retries+1), lastErr))
}

// interpret maps a provider reply to an outcome. ok is false when the reply
// carries nothing usable.
func (i *Invoker) interpret(raw string) (domain.Outcome, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Outcome{}, false
	}
	if i.opts.Structured {
		if reply, err := parseStructuredReply(raw); err == nil {
			if !reply.NeedsTranslation {
				return domain.NoTranslation(), true
			}
			return domain.Translated(strings.TrimSpace(reply.Translation)), true
		}
		// Models occasionally ignore the JSON contract; fall through.
	}
	if isSentinel(raw, i.opts.Sentinel) {
		return domain.NoTranslation(), true
	}
	text := stripQuotes(raw)
	if text == "" {
		return domain.Outcome{}, false
	}
	return domain.Translated(text), true
}

func (i *Invoker) backoff(kind failureKind, attempt int) time.Duration {
	n := time.Duration(attempt)
	if kind == failureThrottled {
		return i.opts.ThrottleBase + n*i.opts.ThrottleStep
	}
	return i.opts.BackoffBase + n*i.opts.BackoffStep
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureThrottled
	failureMalformed
	failurePermanent
)

func classify(err error) failureKind {
	if errors.Is(err, domain.ErrEmptyCompletion) {
		return failureMalformed
	}
	var sc httpStatusCoder
	if !errors.As(err, &sc) {
		return failureTransient
	}
	switch code := sc.HTTPStatusCode(); {
	case code == http.StatusTooManyRequests:
		return failureThrottled
	case code == http.StatusRequestTimeout, code == http.StatusConflict:
		return failureTransient
	case code >= 400 && code < 500:
		return failurePermanent
	default:
		return failureTransient
	}
}

func cancelled(ctx context.Context, err error) domain.Outcome {
	cause := ctx.Err()
	if err != nil {
		cause = errors.Join(cause, err)
	}
	return domain.Failed(domain.ReasonExhaustedRetries,
		domain.NewError(domain.ErrorCancelled, "cancelled during invocation", cause))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

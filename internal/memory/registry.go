// Package memory keeps the bounded, per-conversation state the translation
// pipeline needs: the provider-facing history and the call spacing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"chat-translator/internal/clock"
	"chat-translator/internal/domain"
	"chat-translator/internal/ratelimit"
)

const (
	DefaultHistoryCap       = 10
	DefaultMaxConversations = 10000
)

// Store persists committed exchanges so history survives eviction and
// restarts. Implementations must be safe for concurrent use.
type Store interface {
	LoadTurns(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveExchange(ctx context.Context, exchange domain.Exchange) error
}

type Options struct {
	// SystemPrompt is the fixed instruction every history starts with.
	SystemPrompt string
	// HistoryCap is the number of non-system turns kept per conversation.
	HistoryCap int
	// MaxConversations bounds how many conversations are kept in memory.
	MaxConversations int
	// MinInterval is the minimum gap between provider calls for one
	// conversation.
	MinInterval time.Duration
	Clock       clock.Clock
	// Store is optional.
	Store  Store
	Logger *slog.Logger
}

// Registry maps conversation IDs to their state. Least recently used
// conversations are evicted once MaxConversations is reached; a
// conversation evicted while held is parked until released, so holders of
// the same ID always share one exclusive scope.
type Registry struct {
	systemPrompt string
	historyCap   int
	minInterval  time.Duration
	clock        clock.Clock
	store        Store
	logger       *slog.Logger

	mu     sync.Mutex
	cache  *lru.Cache[string, *Conversation]
	parked map[string]*Conversation
}

func NewRegistry(opts Options) (*Registry, error) {
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		return nil, errors.New("memory: system prompt must not be empty")
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultMaxConversations
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Registry{
		systemPrompt: opts.SystemPrompt,
		historyCap:   opts.HistoryCap,
		minInterval:  opts.MinInterval,
		clock:        opts.Clock,
		store:        opts.Store,
		logger:       opts.Logger.With("component", "memory"),
		parked:       make(map[string]*Conversation),
	}
	cache, err := lru.NewWithEvict[string, *Conversation](opts.MaxConversations, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("memory: create cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Acquire returns the conversation for id, creating it on first use, and
// holds its exclusive scope until Release. Callers for the same id are
// admitted one at a time in arrival order; different ids never contend.
func (r *Registry) Acquire(ctx context.Context, id string) (*Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("memory: conversation id must not be empty")
	}
	c := r.checkout(id)
	select {
	case c.scope <- struct{}{}:
	case <-ctx.Done():
		r.checkin(c)
		return nil, ctx.Err()
	}
	if !c.loaded {
		c.loaded = r.hydrate(ctx, c)
	}
	return c, nil
}

// Len returns the number of conversations currently held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len() + len(r.parked)
}

// HistoryCap returns the configured number of non-system turns kept.
func (r *Registry) HistoryCap() int {
	return r.historyCap
}

func (r *Registry) checkout(id string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache.Get(id); ok {
		c.refs++
		return c
	}
	c, ok := r.parked[id]
	if ok {
		delete(r.parked, id)
	} else {
		c = r.newConversation(id)
	}
	r.cache.Add(id, c)
	c.refs++
	return c
}

func (r *Registry) checkin(c *Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.refs--
	if c.refs > 0 {
		return
	}
	if p, ok := r.parked[c.id]; ok && p == c {
		delete(r.parked, c.id)
	}
}

// onEvict runs inside cache.Add, which is only called with r.mu held.
func (r *Registry) onEvict(id string, c *Conversation) {
	if c.refs > 0 {
		r.parked[id] = c
	}
}

func (r *Registry) newConversation(id string) *Conversation {
	return &Conversation{
		id:       id,
		registry: r,
		scope:    make(chan struct{}, 1),
		spacer:   ratelimit.NewSpacer(r.minInterval, r.clock),
		turns:    []domain.Turn{{Role: domain.RoleSystem, Content: r.systemPrompt}},
	}
}

// hydrate reports whether the durable history was loaded. On failure the
// conversation runs on its in-memory turns and the load is retried on the
// next Acquire. Commits write through, so a later successful load replaces
// the in-memory turns rather than appending to them.
func (r *Registry) hydrate(ctx context.Context, c *Conversation) bool {
	if r.store == nil {
		return true
	}
	turns, err := r.store.LoadTurns(ctx, c.id, r.historyCap)
	if err != nil {
		r.logger.Warn("history load failed, will retry", "conversation_id", c.id, "err", err)
		return false
	}
	c.turns = c.turns[:1]
	c.append(turns...)
	return true
}

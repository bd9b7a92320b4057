package memory

import (
	"context"

	"chat-translator/internal/domain"
	"chat-translator/internal/ratelimit"
)

// Conversation is the state of one chat thread. Every method other than ID
// requires the caller to hold the conversation, i.e. to be between
// Registry.Acquire and Release.
type Conversation struct {
	id       string
	registry *Registry
	scope    chan struct{}
	spacer   *ratelimit.Spacer

	// guarded by Registry.mu
	refs int

	// guarded by scope
	turns  []domain.Turn
	loaded bool
}

func (c *Conversation) ID() string { return c.id }

// History returns a copy of the provider-facing history. The first turn is
// always the system instruction.
func (c *Conversation) History() []domain.Turn {
	out := make([]domain.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append adds turns to the history, dropping the oldest non-system turns
// beyond the cap. System turns are ignored; the history has exactly one.
func (c *Conversation) Append(turns ...domain.Turn) {
	c.append(turns...)
}

func (c *Conversation) append(turns ...domain.Turn) {
	for _, t := range turns {
		if t.Role == domain.RoleSystem {
			continue
		}
		c.turns = append(c.turns, t)
	}
	excess := len(c.turns) - 1 - c.registry.historyCap
	if excess <= 0 {
		return
	}
	trimmed := make([]domain.Turn, 0, 1+c.registry.historyCap)
	trimmed = append(trimmed, c.turns[0])
	trimmed = append(trimmed, c.turns[1+excess:]...)
	c.turns = trimmed
}

// WaitTurn blocks until this conversation may start its next provider
// call.
func (c *Conversation) WaitTurn(ctx context.Context) error {
	return c.spacer.Wait(ctx)
}

// Commit appends the exchange's turns to history and writes it through to
// the store, if one is configured. The in-memory history is updated even
// when the store write fails.
func (c *Conversation) Commit(ctx context.Context, exchange domain.Exchange) error {
	exchange.ConversationID = c.id
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = c.registry.clock.Now()
	}
	c.append(exchange.Turns()...)
	if c.registry.store == nil {
		return nil
	}
	return c.registry.store.SaveExchange(ctx, exchange)
}

// Release ends the caller's hold on the conversation. It must be called
// exactly once per successful Acquire.
func (c *Conversation) Release() {
	<-c.scope
	c.registry.checkin(c)
}

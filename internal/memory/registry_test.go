package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-translator/internal/clock"
	"chat-translator/internal/domain"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	turns    map[string][]domain.Turn
	loadErr  error
	saveErr  error
	saved    []domain.Exchange
	loadedAt []string
}

func (f *fakeStore) LoadTurns(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadedAt = append(f.loadedAt, conversationID)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	turns := f.turns[conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeStore) SaveExchange(_ context.Context, exchange domain.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, exchange)
	return f.saveErr
}

func newRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = "system"
	}
	if opts.Clock == nil {
		opts.Clock = clock.Fake(epoch)
	}
	r, err := NewRegistry(opts)
	require.NoError(t, err)
	return r
}

func acquire(t *testing.T, r *Registry, id string) *Conversation {
	t.Helper()
	c, err := r.Acquire(context.Background(), id)
	require.NoError(t, err)
	return c
}

func userTurn(i int) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("u%d", i)}
}

func TestNewRegistry_RequiresSystemPrompt(t *testing.T) {
	_, err := NewRegistry(Options{SystemPrompt: "  "})
	require.Error(t, err)
}

func TestAcquire_EmptyID(t *testing.T) {
	r := newRegistry(t, Options{})
	_, err := r.Acquire(context.Background(), " ")
	require.Error(t, err)
}

func TestAcquire_LazilyCreatesWithSystemTurn(t *testing.T) {
	r := newRegistry(t, Options{SystemPrompt: "be a translator"})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	require.Equal(t, []domain.Turn{{Role: domain.RoleSystem, Content: "be a translator"}}, c.History())
	require.Equal(t, 1, r.Len())
}

func TestAppend_EnforcesCap(t *testing.T) {
	r := newRegistry(t, Options{HistoryCap: 4})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	for i := 0; i < 25; i++ {
		c.Append(userTurn(i))
		h := c.History()
		require.LessOrEqual(t, len(h), 5)
		require.Equal(t, domain.RoleSystem, h[0].Role)
	}
	h := c.History()
	require.Equal(t, []string{"u21", "u22", "u23", "u24"}, contents(h[1:]))
}

func TestAppend_IgnoresSystemTurns(t *testing.T) {
	r := newRegistry(t, Options{})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	c.Append(domain.Turn{Role: domain.RoleSystem, Content: "override"}, userTurn(1))
	h := c.History()
	require.Len(t, h, 2)
	require.Equal(t, "system", h[0].Content)
}

func TestHistory_ReturnsCopy(t *testing.T) {
	r := newRegistry(t, Options{})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	h := c.History()
	h[0].Content = "mutated"
	require.Equal(t, "system", c.History()[0].Content)
}

func TestAcquire_SerializesSameConversation(t *testing.T) {
	r := newRegistry(t, Options{})
	held := acquire(t, r, "chat-1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Acquire(ctx, "chat-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	again := acquire(t, r, "chat-1")
	again.Release()
}

func TestAcquire_DifferentConversationsDoNotBlock(t *testing.T) {
	r := newRegistry(t, Options{})
	a := acquire(t, r, "chat-a")
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := r.Acquire(ctx, "chat-b")
	require.NoError(t, err)
	b.Release()
}

func TestAcquire_ConcurrentAppendsRespectCap(t *testing.T) {
	r := newRegistry(t, Options{HistoryCap: 6})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Acquire(context.Background(), "chat-1")
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Release()
			c.Append(userTurn(i), domain.Turn{Role: domain.RoleAssistant, Content: "a"})
			if n := len(c.History()); n > 7 {
				t.Errorf("history length %d exceeds cap+1", n)
			}
		}(i)
	}
	wg.Wait()

	c := acquire(t, r, "chat-1")
	defer c.Release()
	require.Len(t, c.History(), 7)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	r := newRegistry(t, Options{MaxConversations: 2})
	for _, id := range []string{"a", "b", "c"} {
		c := acquire(t, r, id)
		c.Append(userTurn(1))
		c.Release()
	}
	require.Equal(t, 2, r.Len())

	c := acquire(t, r, "a")
	defer c.Release()
	require.Len(t, c.History(), 1, "evicted conversation starts over")
}

func TestRegistry_HeldConversationSurvivesEviction(t *testing.T) {
	r := newRegistry(t, Options{MaxConversations: 1})
	a := acquire(t, r, "a")
	a.Append(userTurn(1))

	b := acquire(t, r, "b")
	b.Release()

	// "a" was pushed out of the cache while held but must still be the
	// same exclusive scope.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Acquire(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a.Release()
	again := acquire(t, r, "a")
	defer again.Release()
	require.Len(t, again.History(), 2)
}

func TestRegistry_ParkedConversationDroppedOnRelease(t *testing.T) {
	r := newRegistry(t, Options{MaxConversations: 1})
	a := acquire(t, r, "a")
	a.Append(userTurn(1))
	b := acquire(t, r, "b")
	require.Equal(t, 2, r.Len())

	a.Release()
	require.Equal(t, 1, r.Len())
	b.Release()
}

func TestHydrate_LoadsFromStore(t *testing.T) {
	store := &fakeStore{turns: map[string][]domain.Turn{
		"chat-1": {userTurn(1), {Role: domain.RoleAssistant, Content: "a1"}, userTurn(2)},
	}}
	r := newRegistry(t, Options{Store: store, HistoryCap: 2})

	c := acquire(t, r, "chat-1")
	require.Equal(t, []string{"system", "a1", "u2"}, contents(c.History()))
	c.Release()

	c = acquire(t, r, "chat-1")
	c.Release()
	require.Equal(t, []string{"chat-1"}, store.loadedAt, "hydrated once per in-memory lifetime")
}

func TestHydrate_StoreErrorStartsFresh(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("dynamo down")}
	r := newRegistry(t, Options{Store: store})

	c := acquire(t, r, "chat-1")
	defer c.Release()
	require.Len(t, c.History(), 1)
}

func TestHydrate_RetriedAfterFailure(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("dynamo down")}
	r := newRegistry(t, Options{Store: store})

	c := acquire(t, r, "chat-1")
	require.NoError(t, c.Commit(context.Background(), domain.Exchange{
		User:    userTurn(2),
		Outcome: domain.OutcomeNoTranslation,
	}))
	c.Release()

	// The store recovers and holds the older turn plus the write-through.
	store.mu.Lock()
	store.loadErr = nil
	store.turns = map[string][]domain.Turn{"chat-1": {userTurn(1), userTurn(2)}}
	store.mu.Unlock()

	c = acquire(t, r, "chat-1")
	require.Equal(t, []string{"system", "u1", "u2"}, contents(c.History()))
	c.Release()

	c = acquire(t, r, "chat-1")
	c.Release()
	require.Equal(t, []string{"chat-1", "chat-1"}, store.loadedAt, "no reload once a load succeeded")
}

func TestHydrate_CancelledContextRetries(t *testing.T) {
	store := &fakeStore{turns: map[string][]domain.Turn{"chat-1": {userTurn(1)}}}
	r := newRegistry(t, Options{Store: store})

	store.mu.Lock()
	store.loadErr = context.Canceled
	store.mu.Unlock()
	c := acquire(t, r, "chat-1")
	require.Len(t, c.History(), 1)
	c.Release()

	store.mu.Lock()
	store.loadErr = nil
	store.mu.Unlock()
	c = acquire(t, r, "chat-1")
	defer c.Release()
	require.Equal(t, []string{"system", "u1"}, contents(c.History()))
}

func TestCommit_AppendsAndWritesThrough(t *testing.T) {
	store := &fakeStore{}
	r := newRegistry(t, Options{Store: store})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	assistant := domain.Turn{Role: domain.RoleAssistant, Content: "Hello"}
	err := c.Commit(context.Background(), domain.Exchange{
		User:      domain.Turn{Role: domain.RoleUser, Content: "Hola"},
		Assistant: &assistant,
		Outcome:   domain.OutcomeTranslated,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"system", "Hola", "Hello"}, contents(c.History()))
	require.Len(t, store.saved, 1)
	require.Equal(t, "chat-1", store.saved[0].ConversationID)
	require.Equal(t, epoch, store.saved[0].CreatedAt)
}

func TestCommit_StoreErrorKeepsMemory(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("throttled")}
	r := newRegistry(t, Options{Store: store})
	c := acquire(t, r, "chat-1")
	defer c.Release()

	err := c.Commit(context.Background(), domain.Exchange{
		User:    domain.Turn{Role: domain.RoleUser, Content: "Bonjour"},
		Outcome: domain.OutcomeNoTranslation,
	})
	require.Error(t, err)
	require.Len(t, c.History(), 2)
}

func contents(turns []domain.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Content
	}
	return out
}

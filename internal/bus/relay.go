package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-translator/internal/domain"
)

type Publisher interface {
	Publish(subject string, data any) error
}

type Translator interface {
	Translate(ctx context.Context, msg domain.Message) (domain.Outcome, error)
}

// OutcomeEvent is published on the outbound subject for every resolved
// message.
type OutcomeEvent struct {
	ID string `json:"id"`
	domain.OutcomeView
	ProcessedAt time.Time `json:"processedAt"`
}

// Relay turns inbound bus messages into translation requests. Messages of
// one conversation are handed to the service one at a time in delivery
// order; different conversations run in parallel.
type Relay struct {
	ctx      context.Context
	svc      Translator
	pub      Publisher
	outbound string
	logger   *slog.Logger

	mu sync.Mutex
	// lanes holds the backlog of every conversation with a running worker.
	lanes  map[string][]domain.Message
	closed bool
	wg     sync.WaitGroup
}

// NewRelay creates a Relay whose in-flight translations are bound to ctx.
func NewRelay(ctx context.Context, svc Translator, pub Publisher, outbound string, logger *slog.Logger) (*Relay, error) {
	if svc == nil {
		return nil, errors.New("bus: translator must not be nil")
	}
	if pub == nil {
		return nil, errors.New("bus: publisher must not be nil")
	}
	if strings.TrimSpace(outbound) == "" {
		return nil, errors.New("bus: outbound subject must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		ctx:      ctx,
		svc:      svc,
		pub:      pub,
		outbound: outbound,
		logger:   logger.With("component", "relay"),
		lanes:    make(map[string][]domain.Message),
	}, nil
}

// HandleMessage is a Client.Subscribe handler. It returns immediately.
func (r *Relay) HandleMessage(subject string, data []byte) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn("dropping undecodable message", "subject", subject, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("relay closed, dropping message", "subject", subject, "conversation_id", msg.ConversationID)
		return
	}
	if backlog, busy := r.lanes[msg.ConversationID]; busy {
		r.lanes[msg.ConversationID] = append(backlog, msg)
		return
	}
	r.lanes[msg.ConversationID] = nil
	r.wg.Add(1)
	go r.runLane(msg)
}

// runLane processes msg and then the conversation's backlog until it is
// empty, at which point the lane is dropped.
func (r *Relay) runLane(msg domain.Message) {
	defer r.wg.Done()
	id := msg.ConversationID
	for {
		r.process(msg)

		r.mu.Lock()
		backlog := r.lanes[id]
		if len(backlog) == 0 {
			delete(r.lanes, id)
			r.mu.Unlock()
			return
		}
		msg = backlog[0]
		r.lanes[id] = backlog[1:]
		r.mu.Unlock()
	}
}

// Close stops accepting messages. Messages already accepted still run; call
// Wait to block until they are done.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait blocks until every accepted message has been resolved. Call Close
// first so no message is accepted concurrently.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) process(msg domain.Message) {
	outcome, err := r.svc.Translate(r.ctx, msg)
	if err != nil {
		r.logger.Warn("message rejected", "conversation_id", msg.ConversationID, "err", err)
		return
	}

	event := OutcomeEvent{
		ID:          uuid.NewString(),
		OutcomeView: domain.NewOutcomeView(msg, outcome),
		ProcessedAt: time.Now().UTC(),
	}
	if err := r.pub.Publish(r.outbound, event); err != nil {
		r.logger.Error("failed to publish outcome", "conversation_id", msg.ConversationID, "err", err)
	}
}

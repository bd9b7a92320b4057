package domain

import "time"

// Exchange is one persisted round trip with the provider: the framed user
// turn and, when the provider produced a translation, the assistant turn.
type Exchange struct {
	ConversationID string
	User           Turn
	Assistant      *Turn
	Outcome        OutcomeKind
	CreatedAt      time.Time
}

// Turns expands the exchange into the turns it contributes to history.
func (e Exchange) Turns() []Turn {
	if e.User.Content == "" {
		return nil
	}
	turns := []Turn{e.User}
	if e.Assistant != nil && e.Assistant.Content != "" {
		turns = append(turns, *e.Assistant)
	}
	return turns
}

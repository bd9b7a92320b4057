package domain

// OutcomeKind is the single decision returned for a message.
type OutcomeKind string

const (
	OutcomeNoTranslation OutcomeKind = "no_translation"
	OutcomeTranslated    OutcomeKind = "translated"
	OutcomeFailed        OutcomeKind = "failed"
)

// FailureReason qualifies a failed outcome.
type FailureReason string

const (
	ReasonRateLimited      FailureReason = "rate_limited"
	ReasonProviderError    FailureReason = "provider_error"
	ReasonExhaustedRetries FailureReason = "exhausted_retries"
)

// FailureNotice is the only failure text end users ever see.
const FailureNotice = "Sorry, I couldn't translate that message right now."

// Outcome is the tagged result of processing one message. Text is set only
// for translated outcomes, Reason only for failed ones. Err carries detail
// for operator logs and must not be shown to end users.
type Outcome struct {
	Kind   OutcomeKind
	Text   string
	Reason FailureReason
	Err    error
}

func NoTranslation() Outcome {
	return Outcome{Kind: OutcomeNoTranslation}
}

func Translated(text string) Outcome {
	return Outcome{Kind: OutcomeTranslated, Text: text}
}

func Failed(reason FailureReason, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

// OutcomeView is the transport-facing rendering of an outcome, shared by
// the HTTP API, the Lambda handler and the message bus.
type OutcomeView struct {
	ConversationID string        `json:"conversationId"`
	Outcome        OutcomeKind   `json:"outcome"`
	Translation    string        `json:"translation,omitempty"`
	Reply          string        `json:"reply,omitempty"`
	Reason         FailureReason `json:"reason,omitempty"`
	Notice         string        `json:"notice,omitempty"`
}

// NewOutcomeView renders o for msg. Failure detail stays out of the view;
// only the generic notice is exposed.
func NewOutcomeView(msg Message, o Outcome) OutcomeView {
	v := OutcomeView{ConversationID: msg.ConversationID, Outcome: o.Kind}
	switch o.Kind {
	case OutcomeTranslated:
		v.Translation = o.Text
		v.Reply = FormatReply(msg.AuthorID, msg.Text, o.Text)
	case OutcomeFailed:
		v.Reason = o.Reason
		v.Notice = FailureNotice
	}
	return v
}

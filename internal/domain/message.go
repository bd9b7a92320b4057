package domain

import "strings"

// Message is one inbound chat message handed over by the transport. It is
// never mutated by the pipeline.
type Message struct {
	ConversationID string `json:"conversationId"`
	AuthorID       string `json:"authorId"`
	IsBot          bool   `json:"isBot"`
	Text           string `json:"text"`
}

// FormatReply renders a translation the way chat transports post it back
// into the conversation.
func FormatReply(author, original, translation string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "Unknown"
	}
	return author + ": " + original + " ➡️ " + translation
}

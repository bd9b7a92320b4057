package invoker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chat-translator/internal/domain"
)

const (
	// DefaultSentinel is the reserved reply meaning no translation is needed.
	DefaultSentinel = "NO_TRANSLATION"

	userTurnPrefix = "Now translate or respond accordingly for this input:\n"
)

type structuredReply struct {
	NeedsTranslation bool   `json:"needs_translation"`
	Translation      string `json:"translation"`
}

// UserTurn frames an inbound message as the user turn sent to the provider
// and kept in history.
func UserTurn(text string) domain.Turn {
	return domain.Turn{Role: domain.RoleUser, Content: userTurnPrefix + text}
}

// SystemPrompt returns the fixed instruction that opens every conversation
// history.
func SystemPrompt(sentinel string, structured bool) string {
	if strings.TrimSpace(sentinel) == "" {
		sentinel = DefaultSentinel
	}
	return strings.Join([]string{
		"Role:",
		"You are a translation assistant in a group chat.",
		"",
		"Task:",
		"Decide whether the current message needs a translation to English.",
		"If it does, translate it. If it does not, say so.",
		"",
		"Behavior Rules:",
		behaviorRules(sentinel),
		"",
		"Output Contract:",
		outputContract(sentinel, structured),
		"",
		"Examples:",
		examples(sentinel, structured),
	}, "\n")
}

func behaviorRules(sentinel string) string {
	return strings.Join([]string{
		"1) Text already in English needs no translation.",
		"2) One or two common words most English speakers understand (Hola, Merci, Ciao, Adios, Danke) need no translation.",
		"3) Names of people, places, brands and songs are never translated.",
		"4) Text that is mostly emoji or symbols needs no translation.",
		"5) Gibberish, random characters and ambiguous fragments need no translation.",
		"6) Widely understood acronyms (LOL, ASAP, FIFA, NASA) and borrowed words (pizza, taxi, internet) need no translation.",
		"7) For mixed-language text, translate the non-English parts and return a natural English version of the whole sentence.",
		"8) Keep the tone of the original. Do not translate word for word when it reads unnaturally.",
		"9) Never add explanations, the original text or commentary.",
		fmt.Sprintf("10) Never translate %s; it is a response code.", sentinel),
	}, "\n")
}

func outputContract(sentinel string, structured bool) string {
	if structured {
		return "Return JSON only with keys needs_translation (boolean) and translation (string). " +
			"If no translation is needed, return needs_translation=false and translation=\"\". " +
			"Otherwise return needs_translation=true and the English translation in translation."
	}
	return fmt.Sprintf("If no translation is needed, respond only with: %s. "+
		"Otherwise respond only with the English translation.", sentinel)
}

func examples(sentinel string, structured bool) string {
	cases := []struct{ in, out string }{
		{"Hola, ¿cómo estás?", "Hello, how are you?"},
		{"Bonjour", ""},
		{"Ich liebe dich", "I love you"},
		{"Gracias amigo", "Thank you, my friend"},
		{"Coca-Cola", ""},
		{"😂😂😂", ""},
		{"Estoy learning English", "I am learning English"},
		{"Guten Morgen ☀️", "Good morning ☀️"},
	}
	lines := make([]string, 0, len(cases)*2)
	for _, c := range cases {
		lines = append(lines, fmt.Sprintf("Input: %q", c.in))
		switch {
		case structured:
			b, _ := json.Marshal(structuredReply{NeedsTranslation: c.out != "", Translation: c.out})
			lines = append(lines, "Output: "+string(b))
		case c.out == "":
			lines = append(lines, "Output: "+sentinel)
		default:
			lines = append(lines, "Output: "+c.out)
		}
	}
	return strings.Join(lines, "\n")
}

// isSentinel reports whether raw is the sentinel, ignoring case, outer
// whitespace, echoed quotes and a trailing period.
func isSentinel(raw, sentinel string) bool {
	return strings.EqualFold(strings.TrimRight(stripQuotes(raw), "."), sentinel)
}

// stripQuotes removes one pair of matching quotes the model tends to copy
// from the prompt examples.
func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "'", "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(s) >= len(q)+len(closing) && strings.HasPrefix(s, q) && strings.HasSuffix(s, closing) {
			return strings.TrimSpace(s[len(q) : len(s)-len(closing)])
		}
	}
	return s
}

func parseStructuredReply(raw string) (structuredReply, error) {
	var out structuredReply
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return structuredReply{}, fmt.Errorf("invoker: decode structured reply: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return structuredReply{}, errors.New("invoker: decode structured reply: multiple JSON values")
		}
		return structuredReply{}, fmt.Errorf("invoker: decode structured reply trailing data: %w", err)
	}
	if out.NeedsTranslation && strings.TrimSpace(out.Translation) == "" {
		return structuredReply{}, errors.New("invoker: structured reply missing translation")
	}
	return out, nil
}

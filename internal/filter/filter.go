// Package filter decides locally, without any remote call, whether a chat
// message is worth sending to the translation provider.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// allowedSymbols are the non-punctuation symbols accepted alongside letters.
// Emoji and other pictographs are deliberately absent.
const allowedSymbols = "+-=/*<>@#$%&^_|~`€£¥"

// DefaultFillerWords are interjections and acknowledgements that never
// justify a remote call on their own.
var DefaultFillerWords = []string{
	"lol", "lmao", "rofl", "haha", "hahaha", "hehe", "xd",
	"ok", "okay", "okey", "k", "kk",
	"thanks", "thank", "you", "thx", "ty", "tnx",
	"hi", "hey", "hello", "yo", "bye",
	"yes", "yeah", "yep", "yup", "no", "nope", "nah",
	"sure", "cool", "nice", "great", "np", "gg", "brb", "omg", "wow",
}

// Options configures a Filter.
type Options struct {
	// Scripts lists the Unicode script names (see unicode.Scripts) whose
	// letters are candidates for translation. Defaults to Latin.
	Scripts []string
	// FillerWords replaces DefaultFillerWords when non-empty.
	FillerWords []string
	// SkipFiller disables the filler-word check.
	SkipFiller bool
}

// Filter is a pure predicate over message text. It is safe for concurrent
// use.
type Filter struct {
	scripts []*unicode.RangeTable
	filler  map[string]struct{}
}

func New(opts Options) (*Filter, error) {
	names := opts.Scripts
	if len(names) == 0 {
		names = []string{"Latin"}
	}
	f := &Filter{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		table, ok := unicode.Scripts[name]
		if !ok {
			return nil, fmt.Errorf("filter: unknown script %q", name)
		}
		f.scripts = append(f.scripts, table)
	}
	if len(f.scripts) == 0 {
		return nil, errors.New("filter: at least one script is required")
	}

	if !opts.SkipFiller {
		words := opts.FillerWords
		if len(words) == 0 {
			words = DefaultFillerWords
		}
		fold := cases.Fold()
		f.filler = make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.TrimSpace(fold.String(w))
			if w != "" {
				f.filler[w] = struct{}{}
			}
		}
	}
	return f, nil
}

// ShouldConsider reports whether text may need translation. It rejects empty
// text, text with characters outside the allowed set, text without letters,
// and text made only of filler words.
func (f *Filter) ShouldConsider(text string) bool {
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return false
	}

	hasLetter := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			if !unicode.In(r, f.scripts...) {
				return false
			}
			hasLetter = true
		case unicode.Is(unicode.Mn, r),
			unicode.IsDigit(r),
			unicode.IsPunct(r),
			unicode.IsSpace(r),
			strings.ContainsRune(allowedSymbols, r):
		default:
			return false
		}
	}
	if !hasLetter {
		return false
	}
	return !f.onlyFiller(text)
}

func (f *Filter) onlyFiller(text string) bool {
	if len(f.filler) == 0 {
		return false
	}
	// cases.Caser is stateful, so each call gets its own.
	folded := cases.Fold().String(text)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := f.filler[w]; !ok {
			return false
		}
	}
	return true
}

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"chat-translator/internal/app"
	"chat-translator/internal/config"
	"chat-translator/internal/domain"
)

// TranslateCmd resolves one message against a fresh conversation, or the
// persisted one when STATE_TABLE is set.
type TranslateCmd struct {
	Text         []string `arg:"" optional:"" help:"Message text; read from stdin when omitted"`
	Conversation string   `short:"c" default:"cli" help:"Conversation ID"`
	Author       string   `short:"a" default:"cli" help:"Author ID used in the formatted reply"`
}

// Run executes the translate command
func (c *TranslateCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg, cli)

	text := strings.Join(c.Text, " ")
	if text == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(raw))
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	msg := domain.Message{
		ConversationID: c.Conversation,
		AuthorID:       c.Author,
		Text:           text,
	}
	outcome, err := a.Service.Translate(ctx, msg)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(domain.NewOutcomeView(msg, outcome))
}

package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI represents the main CLI structure. Everything not listed here is read
// from the environment by config.Load.
type CLI struct {
	LogLevel  string `help:"Log level, overrides LOG_LEVEL"`
	LogFormat string `help:"Log format, overrides LOG_FORMAT"`

	Serve     ServeCmd     `cmd:"" default:"1" help:"Relay bus messages and serve the HTTP API (default)"`
	Translate TranslateCmd `cmd:"" help:"Translate a single message and print the outcome"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("translator"),
		kong.Description("Chat auto-translator"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

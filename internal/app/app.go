// Package app assembles the translation pipeline from configuration. The
// command entrypoints only choose a transport.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"chat-translator/internal/api"
	"chat-translator/internal/config"
	"chat-translator/internal/filter"
	"chat-translator/internal/integrations/openai"
	"chat-translator/internal/integrations/paramstore"
	"chat-translator/internal/invoker"
	"chat-translator/internal/memory"
	"chat-translator/internal/repository"
	"chat-translator/internal/usecase"
)

type App struct {
	Config   config.Config
	Service  *usecase.TranslateService
	Registry *memory.Registry
	// History is nil when no state table is configured.
	History *repository.Client
	Logger  *slog.Logger
}

// New builds every component. Errors are configuration problems and should
// stop the process.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg aws.Config
	if cfg.ParamPrefix != "" || cfg.StateTable != "" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	// ---- Parameter store overrides ----
	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		var err error
		params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		values, err := params.GetParameters(ctx, cfg.ParamNames()...)
		if err != nil {
			return nil, fmt.Errorf("app: load parameters: %w", err)
		}
		if err := cfg.ApplyParams(values); err != nil {
			return nil, fmt.Errorf("app: apply parameters: %w", err)
		}
		logger.Info("parameter overrides loaded", "prefix", cfg.ParamPrefix, "count", len(values))
	}

	// ---- Provider ----
	clientOpts := []openai.Option{openai.WithBaseURL(cfg.OpenAIBaseURL)}
	if cfg.OpenAIAPIKey != "" {
		clientOpts = append(clientOpts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	} else {
		clientOpts = append(clientOpts, openai.WithParamStore(params, cfg.ParamPrefix))
	}
	provider, err := openai.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}
	if err := provider.Preload(ctx); err != nil {
		return nil, fmt.Errorf("app: resolve OpenAI key: %w", err)
	}

	// ---- Pipeline ----
	f, err := filter.New(filter.Options{
		Scripts:     cfg.FilterScripts,
		FillerWords: cfg.FillerWords,
		SkipFiller:  !cfg.FillerFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create filter: %w", err)
	}

	inv, err := invoker.New(provider, invoker.Options{
		Model:        cfg.OpenAIModel,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Retries:      cfg.Retries,
		BackoffBase:  cfg.BackoffBase,
		BackoffStep:  cfg.BackoffStep,
		ThrottleBase: cfg.ThrottleBase,
		ThrottleStep: cfg.ThrottleStep,
		Sentinel:     cfg.Sentinel,
		Structured:   cfg.Structured(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create invoker: %w", err)
	}

	var (
		store   memory.Store
		history *repository.Client
	)
	if cfg.StateTable != "" {
		history, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create state client: %w", err)
		}
		store = history
	}

	registry, err := memory.NewRegistry(memory.Options{
		SystemPrompt:     inv.SystemPrompt(),
		HistoryCap:       cfg.HistoryCap,
		MaxConversations: cfg.MaxConversations,
		MinInterval:      cfg.MinCallInterval,
		Store:            store,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create conversation registry: %w", err)
	}

	svc, err := usecase.NewTranslateService(f, registry, inv, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create translate service: %w", err)
	}

	logger.Info("translator ready",
		"model", cfg.OpenAIModel,
		"response_mode", cfg.ResponseMode,
		"scripts", cfg.FilterScripts,
		"durable_history", history != nil,
	)
	return &App{
		Config:   cfg,
		Service:  svc,
		Registry: registry,
		History:  history,
		Logger:   logger,
	}, nil
}

// HistoryStats returns the persisted stats reader, or nil when durable
// history is disabled.
func (a *App) HistoryStats() api.HistoryStats {
	if a.History == nil {
		return nil
	}
	return a.History
}

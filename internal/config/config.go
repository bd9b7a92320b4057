// Package config loads process configuration from the environment, with
// optional overrides from AWS SSM Parameter Store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ResponseModeSentinel   = "sentinel"
	ResponseModeStructured = "structured"

	paramModel       = "/config/openai_model"
	paramFillerWords = "/config/filler_words"
)

type Config struct {
	OpenAIAPIKey  string  `validate:"required_without=ParamPrefix"`
	ParamPrefix   string
	OpenAIBaseURL string  `validate:"required,url"`
	OpenAIModel   string  `validate:"required"`
	Temperature   float32 `validate:"gte=0,lte=2"`
	MaxTokens     int     `validate:"gt=0"`
	ResponseMode  string  `validate:"oneof=sentinel structured"`
	Sentinel      string  `validate:"required"`

	FilterScripts []string `validate:"min=1,dive,required"`
	FillerFilter  bool
	FillerWords   []string

	HistoryCap       int           `validate:"gt=0"`
	MaxConversations int           `validate:"gt=0"`
	MinCallInterval  time.Duration `validate:"gte=0s"`
	Retries          int           `validate:"gte=0,lte=10"`
	BackoffBase      time.Duration `validate:"gte=0s"`
	BackoffStep      time.Duration `validate:"gte=0s"`
	ThrottleBase     time.Duration `validate:"gte=0s"`
	ThrottleStep     time.Duration `validate:"gte=0s"`
	RequestTimeout   time.Duration `validate:"gt=0s"`

	StateTable string

	NatsURL         string `validate:"required"`
	NatsToken       string
	InboundSubject  string `validate:"required"`
	OutboundSubject string `validate:"required"`
	Port            int    `validate:"gt=0,lte=65535"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`
}

// Load reads the configuration from the environment and validates it.
// Malformed values are errors rather than silently replaced by defaults.
func Load() (Config, error) {
	var r envReader
	cfg := Config{
		OpenAIAPIKey:  r.str("OPENAI_API_KEY", ""),
		ParamPrefix:   strings.TrimRight(r.str("PARAM_PREFIX", ""), "/"),
		OpenAIBaseURL: r.str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   r.str("OPENAI_MODEL", "gpt-3.5-turbo"),
		Temperature:   r.float("OPENAI_TEMPERATURE", 0.1),
		MaxTokens:     r.integer("OPENAI_MAX_TOKENS", 100),
		ResponseMode:  strings.ToLower(r.str("RESPONSE_MODE", ResponseModeSentinel)),
		Sentinel:      r.str("SENTINEL", "NO_TRANSLATION"),

		FilterScripts: r.list("FILTER_SCRIPTS", []string{"Latin"}),
		FillerFilter:  r.boolean("FILLER_FILTER", true),
		FillerWords:   r.list("FILLER_WORDS", nil),

		HistoryCap:       r.integer("HISTORY_CAP", 10),
		MaxConversations: r.integer("MAX_CONVERSATIONS", 10000),
		MinCallInterval:  r.duration("MIN_CALL_INTERVAL", 3*time.Second),
		Retries:          r.integer("RETRIES", 2),
		BackoffBase:      r.duration("BACKOFF_BASE", time.Second),
		BackoffStep:      r.duration("BACKOFF_STEP", time.Second),
		ThrottleBase:     r.duration("THROTTLE_BACKOFF_BASE", 20*time.Second),
		ThrottleStep:     r.duration("THROTTLE_BACKOFF_STEP", 10*time.Second),
		RequestTimeout:   r.duration("REQUEST_TIMEOUT", 90*time.Second),

		StateTable: r.str("STATE_TABLE", ""),

		NatsURL:         r.str("NATS_URL", "nats://localhost:4222"),
		NatsToken:       r.str("NATS_TOKEN", ""),
		InboundSubject:  r.str("INBOUND_SUBJECT", "chat.message.received"),
		OutboundSubject: r.str("OUTBOUND_SUBJECT", "chat.translation.outcome"),
		Port:            r.integer("PORT", 8080),

		LogLevel:  normalizeLevel(r.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(r.str("LOG_FORMAT", "json")),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field constraint and reports the first violation.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s failed on '%s' with value '%v'", e.Field(), e.Tag(), e.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Structured reports whether the provider is asked for JSON replies.
func (c Config) Structured() bool {
	return c.ResponseMode == ResponseModeStructured
}

// ParamNames returns the SSM parameters that may override env values.
// It is empty when no parameter prefix is configured.
func (c Config) ParamNames() []string {
	if c.ParamPrefix == "" {
		return nil
	}
	return []string{c.ParamPrefix + paramModel, c.ParamPrefix + paramFillerWords}
}

// ApplyParams overlays values fetched for ParamNames and revalidates.
// Missing names leave the env value in place.
func (c *Config) ApplyParams(values map[string]string) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if v := strings.TrimSpace(values[c.ParamPrefix+paramModel]); v != "" {
		c.OpenAIModel = v
	}
	if v := splitList(values[c.ParamPrefix+paramFillerWords]); len(v) > 0 {
		c.FillerWords = v
	}
	return c.Validate()
}

// envReader collects parse errors so every malformed variable is reported
// at once.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s must be an integer, got %q", key, v))
		return fallback
	}
	return n
}

func (r *envReader) float(key string, fallback float32) float32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s must be a number, got %q", key, v))
		return fallback
	}
	return float32(f)
}

func (r *envReader) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s must be a boolean, got %q", key, v))
		return fallback
	}
	return b
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("config: %s must be a duration, got %q", key, v))
		return fallback
	}
	return d
}

func (r *envReader) list(key string, fallback []string) []string {
	if v := splitList(os.Getenv(key)); len(v) > 0 {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeLevel maps accepted spellings onto the names slog.Level parses.
func normalizeLevel(s string) string {
	s = strings.ToLower(s)
	if s == "warning" {
		return "warn"
	}
	return s
}

// Package config loads the ambient, environment-overridable settings that
// sit above a single Engine run: where files live on disk, which LLM model
// and retry bounds a person_job falls back to when a diagram doesn't say,
// and the scheduler tunables cmd/dipeoctl exposes as flags. It mirrors the
// graph package's functional-option pattern rather than a struct-tag
// binding library, so defaults stay next to the option that overrides them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings every dipeoctl invocation starts from before
// command-line flags layer their own overrides on top.
type Config struct {
	// BaseDir is the root directory file-producing nodes resolve relative
	// paths against.
	BaseDir string

	// UploadsDir, ResultsDir, and DiagramsDir are subdirectories of BaseDir
	// named for uploads, results, and diagram documents. They are loaded
	// and validated here; no handler reads them.
	UploadsDir  string
	ResultsDir  string
	DiagramsDir string

	// DefaultLLMModel names the model a person_job/person_batch_job node
	// uses when its Person config omits one.
	DefaultLLMModel string

	// LLMTimeout bounds a single chat completion call.
	LLMTimeout time.Duration

	// LLMMaxRetries and LLMBackoff bound the person handler's retry of a
	// failed chat completion call before giving up.
	LLMMaxRetries int
	LLMBackoffMin time.Duration
	LLMBackoffMax time.Duration

	// ExecutionTimeout and NodeTimeout seed graph.Options before a caller's
	// own flags or WithExecutionTimeout/WithNodeTimeout calls override them.
	ExecutionTimeout time.Duration
	NodeTimeout      time.Duration

	// NodeReadyPollInterval is how long the scheduler waits between
	// readiness checks. NodeReadyMaxPolls is loaded but not read by the
	// engine: the scheduler declares deadlock as soon as no node is ready
	// and none is in flight.
	NodeReadyPollInterval time.Duration
	NodeReadyMaxPolls     int

	// AutoPrependConversation is loaded from the environment; no component
	// reads it.
	AutoPrependConversation bool

	// ConversationContextLimit caps how many prior messages a person_job
	// call includes; a value of 0 or less falls back to 20.
	ConversationContextLimit int

	// AllowedFileExtensions restricts which extensions an endpoint node may
	// write to; empty means unrestricted. api_job nodes are not restricted.
	AllowedFileExtensions []string

	// MaxUploadSize bounds the size, in bytes, of a single file an endpoint
	// node writes. api_job nodes are not bounded by it.
	MaxUploadSize int64
}

// Option configures a Config, following the same chainable shape as
// graph.Option.
type Option func(*Config) error

// Default returns the settings a fresh dipeoctl invocation starts from
// before environment and flag overrides apply.
func Default() Config {
	return Config{
		BaseDir:                  ".",
		UploadsDir:               "uploads",
		ResultsDir:               "results",
		DiagramsDir:              "diagrams",
		DefaultLLMModel:          "claude-sonnet-4-5",
		LLMTimeout:               60 * time.Second,
		LLMMaxRetries:            3,
		LLMBackoffMin:            500 * time.Millisecond,
		LLMBackoffMax:            10 * time.Second,
		ExecutionTimeout:         time.Hour,
		NodeTimeout:              300 * time.Second,
		NodeReadyPollInterval:    20 * time.Millisecond,
		NodeReadyMaxPolls:        1000,
		AutoPrependConversation:  true,
		ConversationContextLimit: 20,
		AllowedFileExtensions:    nil,
		MaxUploadSize:            10 << 20,
	}
}

// Load builds a Config starting from Default, applying DIPEO_*
// environment variables, then the given Options, so callers can still
// force a value regardless of what the environment sets.
func Load(opts ...Option) (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("DIPEO_BASE_DIR"); ok {
		cfg.BaseDir = v
	}
	if v, ok := os.LookupEnv("DIPEO_UPLOADS_DIR"); ok {
		cfg.UploadsDir = v
	}
	if v, ok := os.LookupEnv("DIPEO_RESULTS_DIR"); ok {
		cfg.ResultsDir = v
	}
	if v, ok := os.LookupEnv("DIPEO_DIAGRAMS_DIR"); ok {
		cfg.DiagramsDir = v
	}
	if v, ok := os.LookupEnv("DIPEO_DEFAULT_LLM_MODEL"); ok {
		cfg.DefaultLLMModel = v
	}
	if v, ok := os.LookupEnv("DIPEO_ALLOWED_FILE_EXTENSIONS"); ok {
		cfg.AllowedFileExtensions = splitNonEmpty(v, ",")
	}

	durations := map[string]*time.Duration{
		"DIPEO_LLM_TIMEOUT":              &cfg.LLMTimeout,
		"DIPEO_LLM_BACKOFF_MIN":          &cfg.LLMBackoffMin,
		"DIPEO_LLM_BACKOFF_MAX":          &cfg.LLMBackoffMax,
		"DIPEO_EXECUTION_TIMEOUT":        &cfg.ExecutionTimeout,
		"DIPEO_NODE_TIMEOUT":             &cfg.NodeTimeout,
		"DIPEO_NODE_READY_POLL_INTERVAL": &cfg.NodeReadyPollInterval,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", name, v, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"DIPEO_LLM_MAX_RETRIES":            &cfg.LLMMaxRetries,
		"DIPEO_NODE_READY_MAX_POLLS":       &cfg.NodeReadyMaxPolls,
		"DIPEO_CONVERSATION_CONTEXT_LIMIT": &cfg.ConversationContextLimit,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", name, v, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("DIPEO_MAX_UPLOAD_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: DIPEO_MAX_UPLOAD_SIZE=%q: %w", v, err)
		}
		cfg.MaxUploadSize = n
	}

	if v, ok := os.LookupEnv("DIPEO_AUTO_PREPEND_CONVERSATION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: DIPEO_AUTO_PREPEND_CONVERSATION=%q: %w", v, err)
		}
		cfg.AutoPrependConversation = b
	}

	return nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WithBaseDir overrides the base directory regardless of environment.
func WithBaseDir(dir string) Option {
	return func(c *Config) error {
		c.BaseDir = dir
		return nil
	}
}

// WithDefaultLLMModel overrides the fallback model name.
func WithDefaultLLMModel(model string) Option {
	return func(c *Config) error {
		c.DefaultLLMModel = model
		return nil
	}
}

// WithExecutionTimeout overrides the default execution timeout.
func WithExecutionTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.ExecutionTimeout = d
		return nil
	}
}

// WithNodeTimeout overrides the default per-node timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.NodeTimeout = d
		return nil
	}
}

// Package graph provides the core diagram execution engine.
package graph

import "time"

// Option is a functional option for configuring an Engine, mirroring the
// chainable Option pattern:
//
//	engine, err := graph.New(
//	    registry, services, store, emitter,
//	    graph.WithMaxConcurrent(16),
//	    graph.WithNodeTimeout(10*time.Second),
//	)
type Option func(*Options) error

// Options configures Engine execution behavior. Zero values are valid; the
// engine applies sensible defaults (see New).
type Options struct {
	// MaxConcurrentNodes bounds how many nodes in one ready-set round run
	// at once. Default: 8. Tune up for I/O-bound diagrams (LLM calls),
	// down for CPU- or memory-constrained deployments.
	MaxConcurrentNodes int

	// NodeTimeout is the per-node execution deadline applied when the node
	// has no NodePolicy.Timeout of its own. Default: 300s.
	NodeTimeout time.Duration

	// ExecutionTimeout bounds the entire Run() call. Default: 3600s.
	ExecutionTimeout time.Duration

	// ReadyPollInterval is how long the scheduler waits before re-checking
	// readiness when the current ready-set is empty but nodes are still in
	// flight. Default: 20ms.
	ReadyPollInterval time.Duration

	// ContinueOnError keeps the run alive after a handler failure, marking
	// only the failed node and its dependents (via dependency_failed) as
	// unable to proceed, instead of aborting the whole run.
	ContinueOnError bool

	// AllowPartial adds the values of the nodes that completed, keyed by
	// node ID, under "outputs" in the execution_failed event's Meta. Run
	// returns the partially populated *ExecutionContext alongside a non-nil
	// error whether or not it is set.
	AllowPartial bool

	// AsyncEmit dispatches events to the Emitter on a background goroutine
	// instead of inline with scheduler progress, so a slow sink cannot stall
	// execution.
	AsyncEmit bool

	// ReplayMode, when true, makes nodes with SideEffectPolicy.Recordable
	// consume previously RecordedIO instead of invoking live external
	// services.
	ReplayMode bool

	// StrictReplay fails the run with ErrReplayMismatch when a recorded I/O
	// hash does not match; when false, mismatches are tolerated.
	StrictReplay bool

	// Metrics, if set, receives Prometheus-compatible scheduler metrics.
	Metrics *PrometheusMetrics

	// CostTracker, if set, accumulates LLM token costs recorded by
	// person_job/person_batch_job handlers.
	CostTracker *CostTracker
}

func defaultOptions() Options {
	return Options{
		MaxConcurrentNodes: 8,
		NodeTimeout:        300 * time.Second,
		ExecutionTimeout:   3600 * time.Second,
		ReadyPollInterval:  20 * time.Millisecond,
		StrictReplay:       true,
	}
}

// WithMaxConcurrent sets how many ready nodes execute in parallel per round.
func WithMaxConcurrent(n int) Option {
	return func(o *Options) error {
		o.MaxConcurrentNodes = n
		return nil
	}
}

// WithNodeTimeout sets the default per-node execution deadline.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.NodeTimeout = d
		return nil
	}
}

// WithExecutionTimeout bounds the entire run's wall-clock time.
func WithExecutionTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.ExecutionTimeout = d
		return nil
	}
}

// WithReadyPollInterval sets the backoff between empty ready-set checks.
func WithReadyPollInterval(d time.Duration) Option {
	return func(o *Options) error {
		o.ReadyPollInterval = d
		return nil
	}
}

// WithContinueOnError keeps the run alive after a handler failure.
func WithContinueOnError(enabled bool) Option {
	return func(o *Options) error {
		o.ContinueOnError = enabled
		return nil
	}
}

// WithAllowPartial adds the completed nodes' outputs to the
// execution_failed event when a run fails.
func WithAllowPartial(enabled bool) Option {
	return func(o *Options) error {
		o.AllowPartial = enabled
		return nil
	}
}

// WithAsyncEmit dispatches events on a background goroutine.
func WithAsyncEmit(enabled bool) Option {
	return func(o *Options) error {
		o.AsyncEmit = enabled
		return nil
	}
}

// WithReplayMode toggles deterministic replay of recorded I/O.
func WithReplayMode(enabled bool) Option {
	return func(o *Options) error {
		o.ReplayMode = enabled
		return nil
	}
}

// WithStrictReplay toggles failure on replay hash mismatch.
func WithStrictReplay(enabled bool) Option {
	return func(o *Options) error {
		o.StrictReplay = enabled
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(o *Options) error {
		o.Metrics = metrics
		return nil
	}
}

// WithCostTracker enables LLM cost tracking with static pricing.
func WithCostTracker(tracker *CostTracker) Option {
	return func(o *Options) error {
		o.CostTracker = tracker
		return nil
	}
}

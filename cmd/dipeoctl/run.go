package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sorryhyun/dipeo-engine-go/config"
	"github.com/sorryhyun/dipeo-engine-go/diagram"
	"github.com/sorryhyun/dipeo-engine-go/graph"
	"github.com/sorryhyun/dipeo-engine-go/graph/events"
	"github.com/sorryhyun/dipeo-engine-go/graph/model"
	"github.com/sorryhyun/dipeo-engine-go/graph/store"
	"github.com/sorryhyun/dipeo-engine-go/handler"
)

func newRunCmd() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	var (
		memoryFile       string
		outDir           string
		storeDSN         string
		logFormat        string
		metricsAddr      string
		maxConcurrent    int
		nodeTimeout      time.Duration
		executionTimeout time.Duration
		continueOnError  bool
		interactive      bool
		costCurrency     string
	)

	cmd := &cobra.Command{
		Use:   "run <diagram-file>",
		Short: "Load a diagram and run it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := diagram.Load(args[0])
			if err != nil {
				return err
			}
			g, persons, apiKeys, err := diagram.Build(doc)
			if err != nil {
				return err
			}

			mem, err := loadMemoryService(memoryFile)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.BaseDir
			}

			registry := graph.NewHandlerRegistry()

			var engine *graph.Engine
			runner := func(ctx context.Context, sub *graph.Graph, subCtx *graph.ExecutionContext) (*graph.ExecutionContext, error) {
				return engine.Run(ctx, sub, subCtx)
			}

			handler.RegisterAllWithContextLimit(registry, runner, cfg.ConversationContextLimit)

			modelFactory := func(service, modelName, apiKey string) (model.ChatModel, error) {
				if modelName == "" {
					modelName = cfg.DefaultLLMModel
				}
				return liveModelFactory(service, modelName, apiKey)
			}

			// ServiceInteractive is deliberately not set here: user_response
			// reads execCtx.Interactive directly rather than the service
			// registry (see ExecutionContext below).
			services := graph.Services{
				handler.ServiceLLM:    handler.ModelFactory(modelFactory),
				handler.ServiceFile:   dirFileService{baseDir: outDir, allowedExt: cfg.AllowedFileExtensions, maxSize: cfg.MaxUploadSize},
				handler.ServiceMemory: mem,
			}

			st, err := openStore(storeDSN)
			if err != nil {
				return err
			}

			emitter := events.NewLogEmitter(cmd.ErrOrStderr(), logFormat == "json")

			opts := []graph.Option{
				graph.WithMaxConcurrent(maxConcurrent),
				graph.WithNodeTimeout(nodeTimeout),
				graph.WithExecutionTimeout(executionTimeout),
				graph.WithReadyPollInterval(cfg.NodeReadyPollInterval),
				graph.WithContinueOnError(continueOnError),
				graph.WithCostTracker(graph.NewCostTracker(args[0], costCurrency)),
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				metrics := graph.NewPrometheusMetrics(reg)
				opts = append(opts, graph.WithMetrics(metrics))
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() { _ = srv.ListenAndServe() }()
				defer func() { _ = srv.Close() }()
			}

			engine, err = graph.New(registry, services, st, emitter, opts...)
			if err != nil {
				return err
			}
			applyLLMRetryPolicy(engine, g, cfg)

			execCtx := graph.NewExecutionContext(fmt.Sprintf("run-%d", time.Now().UnixNano()), g)
			execCtx.Persons = persons
			execCtx.APIKeys = apiKeys
			if interactive {
				execCtx.Interactive = stdinInteractive
			}

			result, runErr := engine.Run(cmd.Context(), g, execCtx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			summary := map[string]any{
				"executionId": execCtx.ExecutionID,
				"order":       result.Order,
				"outputs":     flattenOutputs(result),
				"skipped":     result.Skipped,
			}
			_ = enc.Encode(summary)

			return runErr
		},
	}

	cmd.Flags().StringVar(&memoryFile, "memory", "", "JSON file backing the db node's key/value lookups")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Base directory for endpoint nodes' save_to_file (default from DIPEO_BASE_DIR or \".\")")
	cmd.Flags().StringVar(&storeDSN, "store", "memory", "Checkpoint store: memory, sqlite:<path>, or mysql:<dsn>")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Event log format: text or json")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (disabled if empty)")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 8, "Maximum nodes to run concurrently per round")
	cmd.Flags().DurationVar(&nodeTimeout, "node-timeout", cfg.NodeTimeout, "Default per-node execution timeout")
	cmd.Flags().DurationVar(&executionTimeout, "execution-timeout", cfg.ExecutionTimeout, "Overall run timeout")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep running after a node failure instead of aborting")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Prompt on stdin for user_response nodes")
	cmd.Flags().StringVar(&costCurrency, "cost-currency", "USD", "Currency label for the cost tracker")

	return cmd
}

func openStore(dsn string) (store.Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return store.NewMemStore(), nil
	case len(dsn) > 7 && dsn[:7] == "sqlite:":
		return store.NewSQLiteStore(dsn[7:])
	case len(dsn) > 6 && dsn[:6] == "mysql:":
		return store.NewMySQLStore(dsn[6:])
	default:
		return nil, fmt.Errorf("unrecognized --store value %q (want memory, sqlite:<path>, or mysql:<dsn>)", dsn)
	}
}

// applyLLMRetryPolicy attaches cfg's retry/backoff bounds to every
// person_job and person_batch_job node, the only handlers that make an
// outbound LLM call and so the only ones worth retrying on a transient
// provider failure.
func applyLLMRetryPolicy(engine *graph.Engine, g *graph.Graph, cfg config.Config) {
	if cfg.LLMMaxRetries <= 0 {
		return
	}
	policy := &graph.NodePolicy{
		Timeout: cfg.LLMTimeout,
		RetryPolicy: &graph.RetryPolicy{
			MaxAttempts: cfg.LLMMaxRetries + 1,
			BaseDelay:   cfg.LLMBackoffMin,
			MaxDelay:    cfg.LLMBackoffMax,
			Retryable:   func(error) bool { return true },
		},
	}
	for _, n := range g.Nodes {
		if n.Type == graph.NodePersonJob || n.Type == graph.NodePersonBatchJob {
			engine.SetNodePolicy(n.ID, policy)
		}
	}
}

func flattenOutputs(execCtx *graph.ExecutionContext) map[string]any {
	out := make(map[string]any, len(execCtx.Outputs))
	for id, o := range execCtx.Outputs {
		out[id] = o.Value
	}
	return out
}

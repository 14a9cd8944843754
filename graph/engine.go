package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph/events"
	"github.com/sorryhyun/dipeo-engine-go/graph/store"
)

// contextKey is a private type for context value keys, avoiding collisions
// with keys from other packages (kept from the original engine loop).
type contextKey string

const (
	// ExecutionIDKey is the context key for the current run's execution id.
	ExecutionIDKey contextKey = "dipeo.execution_id"
	// NodeIDKey is the context key for the node currently executing.
	NodeIDKey contextKey = "dipeo.node_id"
	// AttemptKey is the context key for the current retry attempt (0-based).
	AttemptKey contextKey = "dipeo.attempt"
	// RNGKey is the context key for the run's seeded *rand.Rand.
	RNGKey contextKey = "dipeo.rng"
)

// rngSeed derives the deterministic seed a run's RNG is built from, so a
// persisted checkpoint's RNGSeed and a live run's *rand.Rand always agree.
func rngSeed(executionID string) int64 {
	hasher := sha256.New()
	hasher.Write([]byte(executionID))
	sum := hasher.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8])) // #nosec G115 -- deterministic seeding, not security
}

// initRNG seeds a deterministic random generator from the execution id, so
// replay of the same run produces the same jittered backoff sequence
// (kept from the original engine loop).
func initRNG(executionID string) *rand.Rand {
	return rand.New(rand.NewSource(rngSeed(executionID))) // #nosec G404 -- deterministic RNG for replay, not security
}

// nodeRNG derives a private *rand.Rand for one node's retry backoff from the
// run's base RNG seed and the node id. A single *rand.Rand is not safe for
// concurrent use, and dispatchRound runs every ready node's retry loop in its
// own goroutine, so sharing the run-level RNG across a round would race;
// deriving a per-node generator keeps replay deterministic without sharing
// mutable state across goroutines.
func nodeRNG(base *rand.Rand, nodeID string) *rand.Rand {
	if base == nil {
		return nil
	}
	hasher := sha256.New()
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], uint64(base.Int63()))
	hasher.Write(seedBytes[:])
	hasher.Write([]byte(nodeID))
	sum := hasher.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8])) // #nosec G115 -- deterministic seeding, not security
	return rand.New(rand.NewSource(seed))           // #nosec G404 -- deterministic RNG for replay, not security
}

// Engine drives a Graph to completion: discover ready nodes, dispatch them
// concurrently to registered Handlers, merge their outputs on the scheduler
// goroutine once the round's handlers have returned, and repeat until no
// node remains pending. Concurrent Run calls on one Engine are not
// serialized; each works on its own ExecutionContext. It replaces the
// earlier sequential/frontier-heap design with a round-based ready-set
// scheduler, while keeping its functional-options
// configuration, EngineError taxonomy, context-key propagation, and
// deterministic RNG seeding.
type Engine struct {
	mu sync.Mutex

	registry *HandlerRegistry
	services Services
	policies map[string]*NodePolicy

	store   store.Store
	emitter events.Emitter

	metrics     *PrometheusMetrics
	costTracker *CostTracker

	opts Options
}

// New builds an Engine. store and emitter may be nil (NullEmitter /
// in-memory store are substituted).
func New(registry *HandlerRegistry, services Services, st store.Store, emitter events.Emitter, opts ...Option) (*Engine, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}
	if st == nil {
		st = store.NewMemStore()
	}
	if emitter == nil {
		emitter = events.NewNullEmitter()
	}
	return &Engine{
		registry: registry,
		services: services,
		policies: make(map[string]*NodePolicy),
		store:    st,
		emitter:  emitter,
		metrics:  cfg.Metrics,
		costTracker: cfg.CostTracker,
		opts:     cfg,
	}, nil
}

// SetNodePolicy attaches a NodePolicy (timeout/retry/idempotency) to a
// specific node, overriding the engine-wide defaults for it.
func (e *Engine) SetNodePolicy(nodeID string, p *NodePolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[nodeID] = p
}

// Run drives g to completion and returns the final ExecutionContext.
// InteractiveHandler and seed Persons should already be attached to
// seedCtx; Run mutates and returns the same context.
func (e *Engine) Run(ctx context.Context, g *Graph, seedCtx *ExecutionContext) (*ExecutionContext, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is nil", Code: CodeInvalidGraph}
	}
	if seedCtx == nil {
		seedCtx = NewExecutionContext("", g)
	}
	execCtx := seedCtx
	execCtx.Graph = g

	runCtx := ctx
	var cancel context.CancelFunc
	if e.opts.ExecutionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.opts.ExecutionTimeout)
		defer cancel()
	}

	rng := initRNG(execCtx.ExecutionID)
	runCtx = context.WithValue(runCtx, ExecutionIDKey, execCtx.ExecutionID)
	runCtx = context.WithValue(runCtx, RNGKey, rng)

	resolver := NewResolver(g)

	e.emitStruct(events.Event{
		Type:        events.ExecutionStarted,
		ExecutionID: execCtx.ExecutionID,
		Meta:        map[string]any{"order": g.Order},
	})

	pending := make(map[string]bool, len(g.Order))
	for _, id := range g.Order {
		pending[id] = true
	}
	for id := range execCtx.Outputs {
		delete(pending, id)
	}
	for id := range execCtx.Skipped {
		delete(pending, id)
	}

	return e.runLoop(ctx, runCtx, resolver, execCtx, pending, 0)
}

// Resume reloads the latest persisted round for executionID from the
// engine's store and continues the run from there, re-deriving the
// pending set from g.Order minus whatever the snapshot already completed
// or skipped — the crash-only recovery path described alongside
// checkpoint.go, not a durable pause/resume product feature.
func (e *Engine) Resume(ctx context.Context, g *Graph, executionID string) (*ExecutionContext, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is nil", Code: CodeInvalidGraph}
	}
	snap, round, err := e.store.LoadLatest(ctx, executionID)
	if err != nil {
		return nil, &EngineError{Message: "resume: " + err.Error(), Code: CodeInvalidGraph}
	}

	execCtx := execCtxFromSnapshot(g, snap)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.opts.ExecutionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.opts.ExecutionTimeout)
		defer cancel()
	}
	rng := initRNG(execCtx.ExecutionID)
	runCtx = context.WithValue(runCtx, ExecutionIDKey, execCtx.ExecutionID)
	runCtx = context.WithValue(runCtx, RNGKey, rng)

	resolver := NewResolver(g)

	pending := make(map[string]bool, len(g.Order))
	for _, id := range g.Order {
		pending[id] = true
	}
	for id := range execCtx.Outputs {
		n := g.Nodes[id]
		if n != nil && (n.Type == NodePersonJob || n.Type == NodePersonBatchJob) {
			if m := n.MaxIteration(); m != 0 && execCtx.ExecCount[id] >= m {
				delete(pending, id)
			}
			continue
		}
		delete(pending, id)
	}
	for id := range execCtx.Skipped {
		delete(pending, id)
	}

	return e.runLoop(ctx, runCtx, resolver, execCtx, pending, round+1)
}

// runLoop drives the ready-set scheduler until pending is empty or the run
// fails. baseCtx is the caller's original, untimed context (used for store
// writes, which should survive an ExecutionTimeout cancellation); runCtx
// carries the timeout/cancellation the scheduler itself observes.
func (e *Engine) runLoop(baseCtx, runCtx context.Context, resolver *Resolver, execCtx *ExecutionContext, pending map[string]bool, startRound int) (*ExecutionContext, error) {
	g := execCtx.Graph
	running := make(map[string]bool)
	round := startRound

	for len(pending) > 0 {
		if err := runCtx.Err(); err != nil {
			return e.fail(execCtx, err, pending)
		}

		ready := e.collectReady(resolver, execCtx, pending)
		if len(ready) == 0 {
			if len(running) > 0 {
				time.Sleep(e.opts.ReadyPollInterval)
				continue
			}
			e.markDeadlockSkips(execCtx, pending)
			return e.fail(execCtx, &EngineError{Message: "no node can make progress", Code: CodeDeadlock}, pending)
		}

		for _, id := range ready {
			running[id] = true
			e.emitStruct(events.Event{Type: events.NodeStart, ExecutionID: execCtx.ExecutionID, NodeID: id})
		}

		results := e.dispatchRound(runCtx, execCtx, ready)

		abort := false
		var abortErr error
		for _, id := range ready {
			delete(running, id)
			res := results[id]
			switch {
			case res.skipReason != "":
				execCtx.Skipped[id] = res.skipReason
				delete(pending, id)
				e.emitStruct(events.Event{Type: events.NodeSkipped, ExecutionID: execCtx.ExecutionID, NodeID: id, Meta: map[string]any{"reason": string(res.skipReason)}})
				continue
			case res.err != nil:
				e.emitStruct(events.Event{Type: events.NodeError, ExecutionID: execCtx.ExecutionID, NodeID: id, Meta: map[string]any{"error": res.err.Error()}})
				if !e.opts.ContinueOnError {
					delete(pending, id)
					abort = true
					abortErr = res.err
					break
				}
				execCtx.Skipped[id] = SkipDependencyFailed
				delete(pending, id)
				continue
			}

			execCtx.Outputs[id] = res.output
			execCtx.ExecCount[id]++
			execCtx.Order = append(execCtx.Order, id)
			if res.recorded != nil {
				execCtx.RecordedIO[id] = append(execCtx.RecordedIO[id], *res.recorded)
			}
			if n := g.Nodes[id]; n != nil && n.Type == NodeCondition {
				execCtx.CondVal[id] = conditionResult(res.output)
			}
			e.emitStruct(events.Event{
				Type:        events.NodeComplete,
				ExecutionID: execCtx.ExecutionID,
				NodeID:      id,
				Meta:        map[string]any{"value": res.output.Value, "metadata": res.output.Metadata},
			})

			// Person-job nodes loop on their own unless max_iteration is hit:
			// re-mark pending so the next round re-checks them, rather than
			// requiring an explicit downstream condition to re-queue them.
			n := g.Nodes[id]
			if n != nil && (n.Type == NodePersonJob || n.Type == NodePersonBatchJob) {
				if m := n.MaxIteration(); m == 0 || execCtx.ExecCount[id] < m {
					pending[id] = true
					continue
				}
			}
			delete(pending, id)

			if n != nil && n.Type == NodeCondition && !execCtx.CondVal[id] {
				for _, member := range g.LoopMembers(id) {
					if member == id {
						continue
					}
					pending[member] = true
					delete(execCtx.Skipped, member)
				}
			}
		}

		if abort {
			return e.fail(execCtx, abortErr, pending)
		}

		// Mark any still-pending node whose dependencies can no longer be
		// met as skipped, so downstream resolution keeps progressing
		// instead of looping forever on an unreachable node.
		e.applySkipPolicy(resolver, execCtx, pending, g)

		// Persist a round checkpoint so a crashed run can resume from the
		// last committed round instead of re-executing from scratch. Best
		// effort: a storage error here doesn't invalidate the round's work,
		// it just means resume would fall back to an earlier checkpoint.
		if e.store != nil {
			snap := snapshotOf(execCtx)
			_ = e.store.SaveRound(baseCtx, execCtx.ExecutionID, round, snap)
			e.commitCheckpointV2(baseCtx, execCtx, snap, ready, round)
		}
		round++
	}

	e.emitStruct(events.Event{
		Type:        events.ExecutionComplete,
		ExecutionID: execCtx.ExecutionID,
		Meta:        map[string]any{"order": execCtx.Order},
	})
	return execCtx, nil
}

func (e *Engine) fail(execCtx *ExecutionContext, err error, pending map[string]bool) (*ExecutionContext, error) {
	remaining := make([]string, 0, len(pending))
	for id := range pending {
		remaining = append(remaining, id)
	}
	sort.Strings(remaining)
	meta := map[string]any{"error": err.Error(), "remaining": remaining}
	if e.opts.AllowPartial {
		outputs := make(map[string]any, len(execCtx.Outputs))
		for id, out := range execCtx.Outputs {
			outputs[id] = out.Value
		}
		meta["outputs"] = outputs
	}
	e.emitStruct(events.Event{
		Type:        events.ExecutionFailed,
		ExecutionID: execCtx.ExecutionID,
		Meta:        meta,
	})
	return execCtx, err
}

func (e *Engine) collectReady(r *Resolver, execCtx *ExecutionContext, pending map[string]bool) []string {
	var ready []string
	for id := range pending {
		if r.Ready(id, execCtx) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

func (e *Engine) applySkipPolicy(r *Resolver, execCtx *ExecutionContext, pending map[string]bool, g *Graph) {
	for id := range pending {
		if reason, skip := r.DependencySkipReason(id, execCtx, e.opts.ContinueOnError); skip {
			execCtx.Skipped[id] = reason
			delete(pending, id)
			e.emitStruct(events.Event{Type: events.NodeSkipped, ExecutionID: execCtx.ExecutionID, NodeID: id, Meta: map[string]any{"reason": string(reason)}})
		}
	}
}

func (e *Engine) markDeadlockSkips(execCtx *ExecutionContext, pending map[string]bool) {
	// Deadlock: nothing left to run and nothing in flight. Leave `pending`
	// untouched; the caller reports it as `remaining` on the Deadlock error.
	_ = execCtx
	_ = pending
}

type roundResult struct {
	output     NodeOutput
	err        error
	skipReason SkipReason
	recorded   *RecordedIO
}

// dispatchRound runs every ready node concurrently, bounded by
// MaxConcurrentNodes, and gathers all results before returning — handlers
// never see or mutate the ExecutionContext directly; the scheduler is the
// sole writer.
func (e *Engine) dispatchRound(ctx context.Context, execCtx *ExecutionContext, ready []string) map[string]roundResult {
	results := make(map[string]roundResult, len(ready))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, maxInt(1, e.opts.MaxConcurrentNodes))

	if e.metrics != nil {
		e.metrics.UpdateInflightNodes(len(ready))
	}

	base, _ := ctx.Value(RNGKey).(*rand.Rand)

	for _, id := range ready {
		id := id
		// Derived sequentially, on this dispatching goroutine, before the
		// worker is spawned: base is a single *rand.Rand and is not safe for
		// concurrent use, so every node needs its own generator rather than
		// sharing the round's base RNG across worker goroutines.
		nodeCtx := context.WithValue(ctx, RNGKey, nodeRNG(base, id))
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := e.runOne(nodeCtx, execCtx, id)
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (e *Engine) runOne(ctx context.Context, execCtx *ExecutionContext, id string) roundResult {
	node := execCtx.Graph.Nodes[id]
	if node == nil {
		return roundResult{err: &EngineError{Message: "unknown node", Code: CodeInvalidGraph, NodeID: id}}
	}

	h := e.registry.Lookup(node.Type)
	if h == nil {
		return roundResult{err: &EngineError{Message: "no handler registered for type " + string(node.Type), Code: CodeUnknownHandler, NodeID: id}}
	}

	inputs, err := ResolveInputs(execCtx, node)
	if err != nil {
		return roundResult{err: err}
	}

	svcs := e.servicesFor(h)

	nodeCtx := context.WithValue(ctx, NodeIDKey, id)
	nodeCtx = context.WithValue(nodeCtx, AttemptKey, execCtx.ExecCount[id])

	e.mu.Lock()
	policy := e.policies[id]
	e.mu.Unlock()

	sideEffect := defaultSideEffectPolicy(node.Type)
	if policy != nil && policy.SideEffect != nil {
		sideEffect = policy.SideEffect
	}
	attempt := execCtx.ExecCount[id]

	if sideEffect != nil && sideEffect.Recordable && e.opts.ReplayMode {
		if rec, found := lookupRecordedIO(execCtx.RecordedIO[id], id, attempt); found {
			var value any
			if err := json.Unmarshal(rec.Response, &value); err != nil {
				return roundResult{err: &EngineError{Message: "replay: decode recorded response: " + err.Error(), Code: CodeHandlerFailure, NodeID: id}}
			}
			return roundResult{output: NodeOutput{NodeID: id, Value: value}}
		}
		if e.opts.StrictReplay {
			return roundResult{err: &EngineError{Message: "replay: no recorded I/O for node " + id, Code: CodeHandlerFailure, NodeID: id, Cause: ErrReplayMismatch}}
		}
	}

	rng, _ := ctx.Value(RNGKey).(*rand.Rand)

	start := time.Now()
	out, err := executeHandlerWithTimeout(nodeCtx, h, node, execCtx, inputs, svcs, policy, e.opts.NodeTimeout)

	if err != nil && policy != nil && policy.RetryPolicy != nil {
		rp := policy.RetryPolicy
		for attempt := 1; attempt < rp.MaxAttempts && rp.Retryable != nil && rp.Retryable(err); attempt++ {
			delay := computeBackoff(attempt-1, rp.BaseDelay, rp.MaxDelay, rng)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return roundResult{err: ctx.Err()}
			}
			attemptCtx := context.WithValue(nodeCtx, AttemptKey, attempt)
			out, err = executeHandlerWithTimeout(attemptCtx, h, node, execCtx, inputs, svcs, policy, e.opts.NodeTimeout)
			if err == nil {
				break
			}
		}
		// Only relabel as "max attempts exceeded" when the final error was
		// itself retryable and the attempt budget ran out; a non-retryable
		// error (rejected on the very first check, zero extra attempts made)
		// keeps its own identity so callers can still errors.Is/As it.
		if err != nil && rp.Retryable != nil && rp.Retryable(err) {
			err = &EngineError{Message: err.Error(), Code: CodeHandlerFailure, NodeID: id, Cause: ErrMaxAttemptsExceeded}
		}
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordStepLatency(execCtx.ExecutionID, id, time.Since(start), status)
	}
	if err != nil {
		return roundResult{err: err}
	}
	if out.TokenUsage != nil && e.costTracker != nil {
		model := node.PropString("model")
		_ = e.costTracker.RecordLLMCall(model, out.TokenUsage.InputTokens, out.TokenUsage.OutputTokens, id)
	}
	out.NodeID = id

	var recorded *RecordedIO
	if sideEffect != nil && sideEffect.Recordable {
		if prior, found := lookupRecordedIO(execCtx.RecordedIO[id], id, attempt); found {
			if verifyErr := verifyReplayHash(prior, out.Value); verifyErr != nil && e.opts.StrictReplay {
				return roundResult{err: &EngineError{Message: verifyErr.Error(), Code: CodeHandlerFailure, NodeID: id, Cause: ErrReplayMismatch}}
			}
		} else if rec, recErr := recordIO(id, attempt, inputs, out.Value); recErr == nil {
			recorded = &rec
		}
	}

	return roundResult{output: out, recorded: recorded}
}

// commitCheckpointV2 saves the enhanced, replay-capable checkpoint for the
// round just completed, guarded by an idempotency key so a round that
// somehow gets committed twice (a retried store write, a duplicate Resume)
// doesn't clobber or double-count state. Best effort, same as SaveRound:
// a storage or key-collision error here doesn't invalidate the round.
func (e *Engine) commitCheckpointV2(ctx context.Context, execCtx *ExecutionContext, snap store.Snapshot, ready []string, round int) {
	key, err := computeIdempotencyKey(execCtx.ExecutionID, round, ready, execCtx)
	if err != nil {
		return
	}
	if committed, err := e.store.CheckIdempotency(ctx, key); err != nil || committed {
		return
	}
	_ = e.store.SaveCheckpointV2(ctx, store.CheckpointV2{
		ExecutionID:    execCtx.ExecutionID,
		Round:          round,
		Snapshot:       snap,
		Ready:          ready,
		RNGSeed:        rngSeed(execCtx.ExecutionID),
		RecordedIOs:    flattenRecordedIO(execCtx.RecordedIO),
		IdempotencyKey: key,
		Timestamp:      time.Now(),
	})
}

func flattenRecordedIO(byNode map[string][]RecordedIO) []RecordedIO {
	var out []RecordedIO
	for _, recs := range byNode {
		out = append(out, recs...)
	}
	return out
}

// snapshotOf converts the live ExecutionContext into the plain-struct
// Snapshot shape the store package persists, so Run can checkpoint progress
// round by round without the store package importing graph.
func snapshotOf(execCtx *ExecutionContext) store.Snapshot {
	outputs := make(map[string]store.SnapshotOutput, len(execCtx.Outputs))
	for id, out := range execCtx.Outputs {
		outputs[id] = store.SnapshotOutput{NodeID: out.NodeID, Value: out.Value, Metadata: out.Metadata}
	}
	skipped := make(map[string]string, len(execCtx.Skipped))
	for id, reason := range execCtx.Skipped {
		skipped[id] = string(reason)
	}
	return store.Snapshot{
		ExecutionID: execCtx.ExecutionID,
		Outputs:     outputs,
		ExecCount:   execCtx.ExecCount,
		CondVal:     execCtx.CondVal,
		Skipped:     skipped,
		Order:       execCtx.Order,
	}
}

// execCtxFromSnapshot rebuilds a live ExecutionContext from a persisted
// Snapshot, the inverse of snapshotOf, for Resume to hand back to runLoop.
// Persons, API keys, and the Interactive callback are not part of a
// snapshot and are not restored, so a resumed run has none of them attached.
func execCtxFromSnapshot(g *Graph, snap store.Snapshot) *ExecutionContext {
	execCtx := NewExecutionContext(snap.ExecutionID, g)
	for id, out := range snap.Outputs {
		execCtx.Outputs[id] = NodeOutput{NodeID: out.NodeID, Value: out.Value, Metadata: out.Metadata}
	}
	for id, n := range snap.ExecCount {
		execCtx.ExecCount[id] = n
	}
	for id, v := range snap.CondVal {
		execCtx.CondVal[id] = v
	}
	for id, reason := range snap.Skipped {
		execCtx.Skipped[id] = SkipReason(reason)
	}
	execCtx.Order = append([]string(nil), snap.Order...)
	return execCtx
}

func (e *Engine) servicesFor(h Handler) Services {
	needed := h.RequiresServices()
	if len(needed) == 0 {
		return nil
	}
	out := make(Services, len(needed))
	for _, k := range needed {
		if v, ok := e.services[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (e *Engine) emitStruct(ev events.Event) {
	if e.opts.AsyncEmit {
		go e.emitter.Emit(ev)
		return
	}
	e.emitter.Emit(ev)
}

func conditionResult(out NodeOutput) bool {
	if out.Metadata != nil {
		if v, ok := out.Metadata["conditionResult"].(bool); ok {
			return v
		}
	}
	switch v := out.Value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false"
	case nil:
		return false
	default:
		return true
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package graph provides the core diagram execution engine.
package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Checkpoint handles durable execution snapshots.
//
// Sentinel errors shared with checkpoint commit/replay logic (ErrNoProgress,
// ErrReplayMismatch, ErrIdempotencyViolation) live in errors.go alongside the
// rest of the EngineError taxonomy.

// Checkpoint represents a durable snapshot of execution state, enabling
// resumption and deterministic replay of graph executions.
//
// Checkpoints are created atomically after each scheduler round and contain
// all the information needed to resume from that point:
// - Current accumulated execution context.
// - Node IDs ready to execute at this checkpoint.
// - Recorded I/O for replay.
// - RNG seed for deterministic random number generation.
// - Idempotency key for preventing duplicate commits.
//
// Checkpoints support both automatic resumption after failures and
// user-initiated labeled snapshots for debugging or branching executions.
type Checkpoint struct {
	// ExecutionID uniquely identifies the execution this checkpoint belongs to.
	ExecutionID string `json:"execution_id"`

	// Round is the scheduler round number at checkpoint time. Monotonically
	// increasing within an execution.
	Round int `json:"round"`

	// Context is the accumulated execution state after applying all rounds
	// up to Round.
	Context *ExecutionContext `json:"context"`

	// Ready contains the node IDs ready to execute when resuming from this
	// checkpoint.
	Ready []string `json:"ready"`

	// RNGSeed is the seed for deterministic random number generation.
	// Computed from ExecutionID to ensure consistent random values across replays.
	RNGSeed int64 `json:"rng_seed"`

	// RecordedIOs contains all captured external interactions up to this checkpoint.
	// Indexed by (NodeID, Attempt) for lookup during replay.
	RecordedIOs []RecordedIO `json:"recorded_ios"`

	// IdempotencyKey is a hash of (ExecutionID, Round, Ready, Context) that
	// prevents duplicate checkpoint commits. Format: "sha256:hex_encoded_hash".
	IdempotencyKey string `json:"idempotency_key"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Label is an optional user-defined name for this checkpoint, useful for
	// debugging or creating named save points (e.g., "before_summary", "after_validation").
	// Empty string for automatic checkpoints.
	Label string `json:"label,omitempty"`
}

// computeIdempotencyKey generates a deterministic hash for preventing duplicate checkpoint commits.
//
// The key is computed from:
//  1. Execution ID - uniquely identifies the execution.
//  2. Round - identifies the scheduler tick.
//  3. Sorted ready set - captures which nodes are queued to run next.
//  4. Context hash - captures the accumulated execution state.
//
// This ensures that identical execution contexts produce identical idempotency keys,
// enabling exactly-once checkpoint commits even during retries or crash recovery.
//
// The hash uses SHA-256 for collision resistance and is returned as a hex-encoded string
// with "sha256:" prefix for format versioning.
func computeIdempotencyKey(executionID string, round int, ready []string, execCtx *ExecutionContext) (string, error) {
	h := sha256.New()

	h.Write([]byte(executionID))

	roundBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(roundBytes, uint64(round)) // #nosec G115 -- round is a small non-negative counter
	h.Write(roundBytes)

	sortedReady := append([]string(nil), ready...)
	sort.Strings(sortedReady)
	for _, id := range sortedReady {
		h.Write([]byte(id))
	}

	ctxJSON, err := json.Marshal(execCtx)
	if err != nil {
		return "", err
	}
	h.Write(ctxJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

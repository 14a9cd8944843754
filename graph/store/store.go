// Package store provides persistence implementations for execution snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph/events"
)

// ErrNotFound is returned when a requested execution ID or checkpoint ID does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for execution snapshots and checkpoints.
//
// It enables:
// - Round-by-round snapshot persistence during execution.
// - Latest snapshot retrieval for resumption.
// - Named checkpoint save/load for branching or debugging runs.
//
// Implementations can use:
// - In-memory storage (for testing, see memory.go).
// - Relational databases (MySQL, SQLite).
type Store interface {
	// SaveRound persists the execution snapshot after a scheduler round.
	// Each round is identified by executionID + round number.
	SaveRound(ctx context.Context, executionID string, round int, snapshot Snapshot) error

	// LoadLatest retrieves the most recent snapshot for a given execution.
	// Used to resume execution from the last saved round.
	LoadLatest(ctx context.Context, executionID string) (snapshot Snapshot, round int, err error)

	// SaveCheckpoint creates a named snapshot of execution state.
	SaveCheckpoint(ctx context.Context, cpID string, snapshot Snapshot, round int) error

	// LoadCheckpoint retrieves a previously saved checkpoint.
	LoadCheckpoint(ctx context.Context, cpID string) (snapshot Snapshot, round int, err error)

	// SaveCheckpointV2 persists an enhanced checkpoint with full replay context:
	// the pending ready set, recorded side-effect I/O, RNG seed, and an
	// idempotency key that prevents duplicate commits during crash recovery.
	SaveCheckpointV2(ctx context.Context, checkpoint CheckpointV2) error

	// LoadCheckpointV2 retrieves an enhanced checkpoint by execution ID and round.
	LoadCheckpointV2(ctx context.Context, executionID string, round int) (CheckpointV2, error)

	// CheckIdempotency verifies if an idempotency key has already been
	// committed, preventing duplicate round commits during retries or
	// crash recovery.
	CheckIdempotency(ctx context.Context, key string) (bool, error)

	// PendingEvents retrieves events from the outbox that haven't been
	// marked emitted yet; a consumer drains them and calls MarkEventsEmitted
	// once delivered. No Store method writes events into the outbox, and
	// SaveRound/SaveCheckpointV2 do not record events alongside state.
	PendingEvents(ctx context.Context, limit int) ([]events.Event, error)

	// MarkEventsEmitted marks events as successfully emitted so
	// PendingEvents won't return them again.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error
}

// Snapshot is the persisted shape of an ExecutionContext at a point in
// time. It is a plain struct (not *graph.ExecutionContext) so this
// package never imports graph, avoiding a store <-> graph import cycle.
type Snapshot struct {
	ExecutionID string
	Outputs     map[string]SnapshotOutput
	ExecCount   map[string]int
	CondVal     map[string]bool
	Skipped     map[string]string
	Order       []string
}

// SnapshotOutput is the persisted shape of a graph.NodeOutput.
type SnapshotOutput struct {
	NodeID   string
	Value    any
	Metadata map[string]any
}

// RoundRecord represents a single scheduler round in execution history.
// Used internally by Store implementations to track round-by-round progression.
type RoundRecord struct {
	Round    int
	NodeID   string
	Snapshot Snapshot
}

// Checkpoint represents a named snapshot of execution state.
//
// Deprecated: Use CheckpointV2 for enhanced checkpointing features. Kept
// for compatibility with the original SaveCheckpoint/LoadCheckpoint methods.
type Checkpoint struct {
	ID       string
	Snapshot Snapshot
	Round    int
}

// CheckpointV2 represents an enhanced checkpoint with full execution
// context for deterministic replay.
//
// This type contains all information needed to resume execution from a
// specific point: the accumulated snapshot, the pending ready set, recorded
// I/O for replay, the RNG seed, and an idempotency key preventing duplicate
// commits.
type CheckpointV2 struct {
	// ExecutionID uniquely identifies the execution this checkpoint belongs to.
	ExecutionID string `json:"execution_id"`

	// Round is the scheduler round number at checkpoint time.
	Round int `json:"round"`

	// Snapshot is the execution state after applying all rounds up to Round.
	Snapshot Snapshot `json:"snapshot"`

	// Ready contains the node IDs ready to execute at this checkpoint.
	Ready []string `json:"ready"`

	// RNGSeed is the seed for deterministic random number generation.
	// Computed from ExecutionID to ensure consistent random values across replays.
	RNGSeed int64 `json:"rng_seed"`

	// RecordedIOs contains captured side-effect request/response pairs up
	// to this checkpoint. Type is interface{} to avoid circular dependency;
	// expected to be []graph.RecordedIO.
	RecordedIOs interface{} `json:"recorded_ios"`

	// IdempotencyKey is a hash of (ExecutionID, Round, Snapshot, Ready) that
	// prevents duplicate checkpoint commits. Format: "sha256:hex".
	IdempotencyKey string `json:"idempotency_key"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Label is an optional user-defined name for this checkpoint, useful
	// for debugging or creating named save points. Empty for automatic
	// checkpoints.
	Label string `json:"label,omitempty"`
}

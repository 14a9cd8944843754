package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sorryhyun/dipeo-engine-go/graph/events"
)

// MemStore is an in-memory implementation of Store.
//
// It stores execution snapshots and checkpoints in memory using maps.
// Designed for:
//   - Testing and development
//   - Single-process executions
//   - Short-lived diagrams where persistence isn't required
//
// MemStore is thread-safe and supports concurrent access.
//
// Limitations:
//   - Data is lost when process terminates
//   - Not suitable for distributed systems
//   - Memory usage grows with execution history
//
// For production use with persistence, use database-backed stores (MySQL, SQLite).
type MemStore struct {
	mu             sync.RWMutex
	rounds         map[string][]RoundRecord      // executionID -> list of rounds
	checkpoints    map[string]Checkpoint         // checkpointID -> checkpoint
	checkpointsV2  map[string]CheckpointV2       // "executionID:round" -> checkpoint
	labelIndex     map[string]string             // label -> "executionID:round"
	idempotencyMap map[string]bool               // idempotency key -> exists
	pendingEvents  []events.Event                // pending events queue
	eventIDSet     map[string]int                // eventID -> index in pendingEvents
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rounds:         make(map[string][]RoundRecord),
		checkpoints:    make(map[string]Checkpoint),
		checkpointsV2:  make(map[string]CheckpointV2),
		labelIndex:     make(map[string]string),
		idempotencyMap: make(map[string]bool),
		pendingEvents:  make([]events.Event, 0),
		eventIDSet:     make(map[string]int),
	}
}

// SaveRound persists an execution snapshot after a scheduler round (T036).
//
// Rounds are appended to the execution's history in the order they are
// saved. Thread-safe for concurrent writes.
func (m *MemStore) SaveRound(_ context.Context, executionID string, round int, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record := RoundRecord{
		Round:    round,
		Snapshot: snapshot,
	}

	m.rounds[executionID] = append(m.rounds[executionID], record)
	return nil
}

// LoadLatest retrieves the most recent round for an execution (T038).
//
// Returns the round with the highest round number. This handles
// out-of-order round saves correctly.
func (m *MemStore) LoadLatest(_ context.Context, executionID string) (snapshot Snapshot, round int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, exists := m.rounds[executionID]
	if !exists || len(records) == 0 {
		return Snapshot{}, 0, ErrNotFound
	}

	latest := records[0]
	for _, record := range records[1:] {
		if record.Round > latest.Round {
			latest = record
		}
	}

	return latest.Snapshot, latest.Round, nil
}

// SaveCheckpoint creates a named checkpoint (T040).
//
// Checkpoints can be used to:
//   - Create branching executions (save checkpoint, try different paths)
//   - Mark significant milestones
//   - Provide manual resumption points
//
// If a checkpoint with the same ID exists, it is overwritten.
func (m *MemStore) SaveCheckpoint(_ context.Context, cpID string, snapshot Snapshot, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[cpID] = Checkpoint{
		ID:       cpID,
		Snapshot: snapshot,
		Round:    round,
	}

	return nil
}

// LoadCheckpoint retrieves a named checkpoint (T042).
//
// Returns ErrNotFound if the checkpoint ID doesn't exist.
func (m *MemStore) LoadCheckpoint(_ context.Context, cpID string) (snapshot Snapshot, round int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, exists := m.checkpoints[cpID]
	if !exists {
		return Snapshot{}, 0, ErrNotFound
	}

	return cp.Snapshot, cp.Round, nil
}

// serializableMemStore is the JSON-serializable representation of MemStore.
type serializableMemStore struct {
	Rounds         map[string][]RoundRecord `json:"rounds"`
	Checkpoints    map[string]Checkpoint    `json:"checkpoints"`
	CheckpointsV2  map[string]CheckpointV2  `json:"checkpoints_v2"`
	LabelIndex     map[string]string        `json:"label_index"`
	IdempotencyMap map[string]bool          `json:"idempotency_map"`
	PendingEvents  []events.Event           `json:"pending_events"`
}

// MarshalJSON serializes the MemStore to JSON (T072).
//
// Thread-safe: acquires read lock during serialization.
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := serializableMemStore{
		Rounds:         m.rounds,
		Checkpoints:    m.checkpoints,
		CheckpointsV2:  m.checkpointsV2,
		LabelIndex:     m.labelIndex,
		IdempotencyMap: m.idempotencyMap,
		PendingEvents:  m.pendingEvents,
	}

	return json.Marshal(s)
}

// UnmarshalJSON deserializes JSON data into the MemStore (T074).
//
// Replaces the current contents of the MemStore with the deserialized
// data. Thread-safe: acquires write lock during deserialization.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s serializableMemStore
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	m.rounds = s.Rounds
	m.checkpoints = s.Checkpoints
	m.checkpointsV2 = s.CheckpointsV2
	m.labelIndex = s.LabelIndex
	m.idempotencyMap = s.IdempotencyMap
	m.pendingEvents = s.PendingEvents

	if m.rounds == nil {
		m.rounds = make(map[string][]RoundRecord)
	}
	if m.checkpoints == nil {
		m.checkpoints = make(map[string]Checkpoint)
	}
	if m.checkpointsV2 == nil {
		m.checkpointsV2 = make(map[string]CheckpointV2)
	}
	if m.labelIndex == nil {
		m.labelIndex = make(map[string]string)
	}
	if m.idempotencyMap == nil {
		m.idempotencyMap = make(map[string]bool)
	}
	if m.pendingEvents == nil {
		m.pendingEvents = make([]events.Event, 0)
	}

	m.eventIDSet = make(map[string]int)
	for i, event := range m.pendingEvents {
		if event.Meta != nil {
			if id, ok := event.Meta["event_id"].(string); ok {
				m.eventIDSet[id] = i
			}
		}
	}

	return nil
}

// SaveCheckpointV2 persists an enhanced checkpoint with full replay context (T094).
//
// Stores the checkpoint indexed by (executionID, round) and optionally by
// label if provided. Returns error if the idempotency key already exists
// (duplicate commit prevention).
func (m *MemStore) SaveCheckpointV2(_ context.Context, checkpoint CheckpointV2) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if checkpoint.IdempotencyKey != "" {
		if m.idempotencyMap[checkpoint.IdempotencyKey] {
			return fmt.Errorf("duplicate checkpoint: idempotency key %q already exists", checkpoint.IdempotencyKey)
		}
		m.idempotencyMap[checkpoint.IdempotencyKey] = true
	}

	key := fmt.Sprintf("%s:%d", checkpoint.ExecutionID, checkpoint.Round)
	m.checkpointsV2[key] = checkpoint

	if checkpoint.Label != "" {
		m.labelIndex[checkpoint.Label] = key
	}

	return nil
}

// LoadCheckpointV2 retrieves an enhanced checkpoint by execution ID and round (T095).
//
// Returns ErrNotFound if the checkpoint doesn't exist.
func (m *MemStore) LoadCheckpointV2(_ context.Context, executionID string, round int) (CheckpointV2, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := fmt.Sprintf("%s:%d", executionID, round)
	checkpoint, exists := m.checkpointsV2[key]
	if !exists {
		return CheckpointV2{}, ErrNotFound
	}

	return checkpoint, nil
}

// CheckIdempotency verifies if an idempotency key has been used (T096).
func (m *MemStore) CheckIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exists := m.idempotencyMap[key]
	return exists, nil
}

// PendingEvents retrieves events from the transactional outbox that haven't been emitted (T097).
//
// Returns up to 'limit' pending events ordered by insertion order. Empty
// list is not an error.
func (m *MemStore) PendingEvents(_ context.Context, limit int) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := len(m.pendingEvents)
	if limit > 0 && limit < count {
		count = limit
	}

	result := make([]events.Event, count)
	copy(result, m.pendingEvents[:count])

	return result, nil
}

// MarkEventsEmitted marks events as successfully emitted to prevent re-delivery (T098).
//
// Event IDs should be stored in the event's Meta map with key "event_id".
// If an event ID is not found, it is silently ignored (idempotent operation).
func (m *MemStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(eventIDs) == 0 {
		return nil
	}

	toRemove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		toRemove[id] = true
	}

	filtered := make([]events.Event, 0, len(m.pendingEvents))
	newEventIDSet := make(map[string]int)

	for _, event := range m.pendingEvents {
		eventID := ""
		if event.Meta != nil {
			if id, ok := event.Meta["event_id"].(string); ok {
				eventID = id
			}
		}

		if !toRemove[eventID] {
			newEventIDSet[eventID] = len(filtered)
			filtered = append(filtered, event)
		} else {
			delete(m.eventIDSet, eventID)
		}
	}

	m.pendingEvents = filtered
	m.eventIDSet = newEventIDSet

	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph/events"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It stores execution snapshots and checkpoints in a single-file database.
// Designed for:
//   - Development and testing with zero setup
//   - Single-process executions
//   - Local runs requiring persistence
//   - Prototyping before migrating to a distributed store
//
// SQLiteStore uses WAL mode for concurrent reads and proper transactions.
//
// Schema:
//   - execution_rounds: Round-by-round execution history
//   - execution_checkpoints: Named checkpoints for resumption
//   - execution_checkpoints_v2: Enhanced checkpoints with full replay context
//   - idempotency_keys: Duplicate prevention
//   - events_outbox: Transactional event delivery
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./dev.db" - file in current directory
//   - "/tmp/dipeo.db" - absolute path
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and tables, enables
// WAL mode, and configures a busy timeout.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		closed: false,
		path:   path,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	roundsTable := `
		CREATE TABLE IF NOT EXISTS execution_rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, round)
		)
	`
	if _, err := s.db.ExecContext(ctx, roundsTable); err != nil {
		return fmt.Errorf("failed to create execution_rounds table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_rounds_execution_id ON execution_rounds(execution_id)"); err != nil {
		return fmt.Errorf("failed to create idx_rounds_execution_id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_rounds_execution_round ON execution_rounds(execution_id, round)"); err != nil {
		return fmt.Errorf("failed to create idx_rounds_execution_round: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS execution_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checkpoint_id TEXT NOT NULL UNIQUE,
			snapshot TEXT NOT NULL,
			round INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create execution_checkpoints table: %w", err)
	}

	checkpointsV2Table := `
		CREATE TABLE IF NOT EXISTS execution_checkpoints_v2 (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			ready TEXT NOT NULL,
			rng_seed INTEGER NOT NULL,
			recorded_ios TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			timestamp TIMESTAMP NOT NULL,
			label TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(execution_id, round)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsV2Table); err != nil {
		return fmt.Errorf("failed to create execution_checkpoints_v2 table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_v2_execution_id ON execution_checkpoints_v2(execution_id)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_v2_execution_id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_v2_label ON execution_checkpoints_v2(execution_id, label)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_v2_label: %w", err)
	}

	idempotencyTable := `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value TEXT NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, idempotencyTable); err != nil {
		return fmt.Errorf("failed to create idempotency_keys table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency_keys(created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_idempotency_created: %w", err)
	}

	eventsOutboxTable := `
		CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT NOT NULL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			event_data TEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, eventsOutboxTable); err != nil {
		return fmt.Errorf("failed to create events_outbox table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_events_pending: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_events_execution_id ON events_outbox(execution_id)"); err != nil {
		return fmt.Errorf("failed to create idx_events_execution_id: %w", err)
	}

	return nil
}

// SaveRound persists an execution snapshot after a scheduler round.
func (s *SQLiteStore) SaveRound(ctx context.Context, executionID string, round int, snapshot Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO execution_rounds (execution_id, round, snapshot)
		VALUES (?, ?, ?)
		ON CONFLICT(execution_id, round) DO UPDATE SET
			snapshot = excluded.snapshot
	`

	_, err = s.db.ExecContext(ctx, query, executionID, round, string(snapshotJSON))
	if err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}

	return nil
}

// LoadLatest retrieves the most recent round for an execution.
func (s *SQLiteStore) LoadLatest(ctx context.Context, executionID string) (snapshot Snapshot, round int, err error) {
	if err := s.checkOpen(); err != nil {
		return Snapshot{}, 0, err
	}

	query := `
		SELECT round, snapshot
		FROM execution_rounds
		WHERE execution_id = ?
		ORDER BY round DESC
		LIMIT 1
	`

	var snapshotJSON string
	err = s.db.QueryRowContext(ctx, query, executionID).Scan(&round, &snapshotJSON)
	if err == sql.ErrNoRows {
		return Snapshot{}, 0, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to load latest round: %w", err)
	}

	if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snapshot, round, nil
}

// SaveCheckpoint creates a named checkpoint.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cpID string, snapshot Snapshot, round int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO execution_checkpoints (checkpoint_id, snapshot, round)
		VALUES (?, ?, ?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			round = excluded.round,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query, cpID, string(snapshotJSON), round)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint retrieves a named checkpoint.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, cpID string) (snapshot Snapshot, round int, err error) {
	if err := s.checkOpen(); err != nil {
		return Snapshot{}, 0, err
	}

	query := `
		SELECT snapshot, round
		FROM execution_checkpoints
		WHERE checkpoint_id = ?
	`

	var snapshotJSON string
	err = s.db.QueryRowContext(ctx, query, cpID).Scan(&snapshotJSON, &round)
	if err == sql.ErrNoRows {
		return Snapshot{}, 0, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(snapshotJSON), &snapshot); err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snapshot, round, nil
}

// SaveCheckpointV2 persists an enhanced checkpoint with full replay context.
//
// The operation runs inside a transaction to ensure atomicity. If the
// idempotency key already exists, the transaction fails (prevents
// duplicate commits).
func (s *SQLiteStore) SaveCheckpointV2(ctx context.Context, checkpoint CheckpointV2) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	snapshotJSON, err := json.Marshal(checkpoint.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	readyJSON, err := json.Marshal(checkpoint.Ready)
	if err != nil {
		return fmt.Errorf("failed to marshal ready set: %w", err)
	}
	recordedIOsJSON, err := json.Marshal(checkpoint.RecordedIOs)
	if err != nil {
		return fmt.Errorf("failed to marshal recorded IOs: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	idempotencyQuery := `INSERT INTO idempotency_keys (key_value) VALUES (?)`
	if _, err = tx.ExecContext(ctx, idempotencyQuery, checkpoint.IdempotencyKey); err != nil {
		return fmt.Errorf("idempotency key already exists or insert failed: %w", err)
	}

	checkpointQuery := `
		INSERT INTO execution_checkpoints_v2
		(execution_id, round, snapshot, ready, rng_seed, recorded_ios, idempotency_key, timestamp, label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, round) DO UPDATE SET
			snapshot = excluded.snapshot,
			ready = excluded.ready,
			rng_seed = excluded.rng_seed,
			recorded_ios = excluded.recorded_ios,
			idempotency_key = excluded.idempotency_key,
			timestamp = excluded.timestamp,
			label = excluded.label
	`

	_, err = tx.ExecContext(ctx, checkpointQuery,
		checkpoint.ExecutionID,
		checkpoint.Round,
		string(snapshotJSON),
		string(readyJSON),
		checkpoint.RNGSeed,
		string(recordedIOsJSON),
		checkpoint.IdempotencyKey,
		checkpoint.Timestamp.Format(time.RFC3339Nano),
		checkpoint.Label,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadCheckpointV2 retrieves an enhanced checkpoint by execution ID and round.
func (s *SQLiteStore) LoadCheckpointV2(ctx context.Context, executionID string, round int) (CheckpointV2, error) {
	if err := s.checkOpen(); err != nil {
		return CheckpointV2{}, err
	}

	query := `
		SELECT execution_id, round, snapshot, ready, rng_seed, recorded_ios, idempotency_key, timestamp, label
		FROM execution_checkpoints_v2
		WHERE execution_id = ? AND round = ?
		LIMIT 1
	`

	var (
		snapshotJSON    string
		readyJSON       string
		recordedIOsJSON string
		timestampStr    string
		checkpoint      CheckpointV2
	)

	err := s.db.QueryRowContext(ctx, query, executionID, round).Scan(
		&checkpoint.ExecutionID,
		&checkpoint.Round,
		&snapshotJSON,
		&readyJSON,
		&checkpoint.RNGSeed,
		&recordedIOsJSON,
		&checkpoint.IdempotencyKey,
		&timestampStr,
		&checkpoint.Label,
	)

	if err == sql.ErrNoRows {
		return CheckpointV2{}, ErrNotFound
	}
	if err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	checkpoint.Timestamp, err = time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if err := json.Unmarshal([]byte(snapshotJSON), &checkpoint.Snapshot); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(readyJSON), &checkpoint.Ready); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal ready set: %w", err)
	}
	if err := json.Unmarshal([]byte(recordedIOsJSON), &checkpoint.RecordedIOs); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal recorded IOs: %w", err)
	}

	return checkpoint, nil
}

// CheckIdempotency verifies if an idempotency key has been used.
func (s *SQLiteStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	query := `SELECT COUNT(*) FROM idempotency_keys WHERE key_value = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	return count > 0, nil
}

// PendingEvents retrieves events from the outbox that haven't been emitted yet.
func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, execution_id, event_data
		FROM events_outbox
		WHERE emitted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []events.Event
	for rows.Next() {
		var (
			id          string
			executionID string
			eventJSON   string
		)

		if err := rows.Scan(&id, &executionID, &eventJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		var event events.Event
		if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}

		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return result, nil
}

// MarkEventsEmitted marks events as successfully emitted to prevent re-delivery.
func (s *SQLiteStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if len(eventIDs) == 0 {
		return nil
	}

	placeholders := ""
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}

	// #nosec G201 -- placeholders are not user input, just "?" marks for parameterized query
	query := fmt.Sprintf(`
		UPDATE events_outbox
		SET emitted_at = CURRENT_TIMESTAMP
		WHERE id IN (%s)
	`, placeholders)

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark events as emitted: %w", err)
	}

	return nil
}

// checkOpen returns an error if the store has already been closed.
func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close closes the database connection.
//
// After Close, all operations will return an error. Calling Close
// multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

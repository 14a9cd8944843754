package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sorryhyun/dipeo-engine-go/graph/events"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// It stores execution snapshots and checkpoints in a relational database.
// Designed for:
//   - Production executions requiring persistence
//   - Distributed systems with multiple workers
//   - Long-running executions that survive process restarts
//   - Audit trails and compliance requirements
//
// MySQLStore uses connection pooling and transactions for reliability.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/dipeo
//	user:password@tcp(127.0.0.1:3306)/dipeo?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    store, err := NewMySQLStore(dsn)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store := &MySQLStore{
		db:     db,
		closed: false,
	}

	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	roundsTable := `
		CREATE TABLE IF NOT EXISTS execution_rounds (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			round INT NOT NULL,
			snapshot JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_execution_id (execution_id),
			INDEX idx_execution_round (execution_id, round),
			UNIQUE KEY unique_execution_round (execution_id, round)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, roundsTable); err != nil {
		return fmt.Errorf("failed to create execution_rounds table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS execution_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			checkpoint_id VARCHAR(255) NOT NULL UNIQUE,
			snapshot JSON NOT NULL,
			round INT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create execution_checkpoints table: %w", err)
	}

	checkpointsV2Table := `
		CREATE TABLE IF NOT EXISTS execution_checkpoints_v2 (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			round INT NOT NULL,
			snapshot JSON NOT NULL,
			ready JSON NOT NULL,
			rng_seed BIGINT NOT NULL,
			recorded_ios JSON NOT NULL,
			idempotency_key VARCHAR(255) NOT NULL UNIQUE,
			timestamp TIMESTAMP NOT NULL,
			label VARCHAR(255) DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_execution_id (execution_id),
			INDEX idx_execution_round (execution_id, round),
			INDEX idx_label (execution_id, label),
			UNIQUE KEY unique_execution_round (execution_id, round)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsV2Table); err != nil {
		return fmt.Errorf("failed to create execution_checkpoints_v2 table: %w", err)
	}

	idempotencyTable := `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value VARCHAR(255) NOT NULL PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, idempotencyTable); err != nil {
		return fmt.Errorf("failed to create idempotency_keys table: %w", err)
	}

	eventsOutboxTable := `
		CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			event_data JSON NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_pending (emitted_at, created_at),
			INDEX idx_execution_id (execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, eventsOutboxTable); err != nil {
		return fmt.Errorf("failed to create events_outbox table: %w", err)
	}

	return nil
}

// SaveRound persists an execution snapshot after a scheduler round.
func (m *MySQLStore) SaveRound(ctx context.Context, executionID string, round int, snapshot Snapshot) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO execution_rounds (execution_id, round, snapshot)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			snapshot = VALUES(snapshot)
	`

	_, err = m.db.ExecContext(ctx, query, executionID, round, snapshotJSON)
	if err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}

	return nil
}

// LoadLatest retrieves the most recent round for an execution.
func (m *MySQLStore) LoadLatest(ctx context.Context, executionID string) (snapshot Snapshot, round int, err error) {
	if err := m.checkOpen(); err != nil {
		return Snapshot{}, 0, err
	}

	query := `
		SELECT round, snapshot
		FROM execution_rounds
		WHERE execution_id = ?
		ORDER BY round DESC
		LIMIT 1
	`

	var snapshotJSON []byte
	err = m.db.QueryRowContext(ctx, query, executionID).Scan(&round, &snapshotJSON)
	if err == sql.ErrNoRows {
		return Snapshot{}, 0, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to load latest round: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snapshot, round, nil
}

// SaveCheckpoint creates a named checkpoint.
func (m *MySQLStore) SaveCheckpoint(ctx context.Context, cpID string, snapshot Snapshot, round int) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO execution_checkpoints (checkpoint_id, snapshot, round)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			snapshot = VALUES(snapshot),
			round = VALUES(round),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = m.db.ExecContext(ctx, query, cpID, snapshotJSON, round)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// LoadCheckpoint retrieves a named checkpoint.
func (m *MySQLStore) LoadCheckpoint(ctx context.Context, cpID string) (snapshot Snapshot, round int, err error) {
	if err := m.checkOpen(); err != nil {
		return Snapshot{}, 0, err
	}

	query := `
		SELECT snapshot, round
		FROM execution_checkpoints
		WHERE checkpoint_id = ?
	`

	var snapshotJSON []byte
	err = m.db.QueryRowContext(ctx, query, cpID).Scan(&snapshotJSON, &round)
	if err == sql.ErrNoRows {
		return Snapshot{}, 0, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &snapshot); err != nil {
		return Snapshot{}, 0, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return snapshot, round, nil
}

// Close closes the database connection pool.
//
// After Close, all operations will return an error. Calling Close
// multiple times is safe (subsequent calls are no-ops).
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.Stats()
}

// WithTransaction executes a function within a database transaction.
//
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (m *MySQLStore) WithTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SaveCheckpointV2 persists an enhanced checkpoint with full replay context.
//
// The operation runs inside a transaction to ensure atomicity. If the
// idempotency key already exists, the transaction fails.
func (m *MySQLStore) SaveCheckpointV2(ctx context.Context, checkpoint CheckpointV2) error {
	if err := m.checkOpen(); err != nil {
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

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
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
		ON DUPLICATE KEY UPDATE
			snapshot = VALUES(snapshot),
			ready = VALUES(ready),
			rng_seed = VALUES(rng_seed),
			recorded_ios = VALUES(recorded_ios),
			idempotency_key = VALUES(idempotency_key),
			timestamp = VALUES(timestamp),
			label = VALUES(label)
	`

	_, err = tx.ExecContext(ctx, checkpointQuery,
		checkpoint.ExecutionID,
		checkpoint.Round,
		snapshotJSON,
		readyJSON,
		checkpoint.RNGSeed,
		recordedIOsJSON,
		checkpoint.IdempotencyKey,
		checkpoint.Timestamp,
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
func (m *MySQLStore) LoadCheckpointV2(ctx context.Context, executionID string, round int) (CheckpointV2, error) {
	if err := m.checkOpen(); err != nil {
		return CheckpointV2{}, err
	}

	query := `
		SELECT execution_id, round, snapshot, ready, rng_seed, recorded_ios, idempotency_key, timestamp, label
		FROM execution_checkpoints_v2
		WHERE execution_id = ? AND round = ?
		LIMIT 1
	`

	var (
		snapshotJSON    []byte
		readyJSON       []byte
		recordedIOsJSON []byte
		checkpoint      CheckpointV2
	)

	err := m.db.QueryRowContext(ctx, query, executionID, round).Scan(
		&checkpoint.ExecutionID,
		&checkpoint.Round,
		&snapshotJSON,
		&readyJSON,
		&checkpoint.RNGSeed,
		&recordedIOsJSON,
		&checkpoint.IdempotencyKey,
		&checkpoint.Timestamp,
		&checkpoint.Label,
	)

	if err == sql.ErrNoRows {
		return CheckpointV2{}, ErrNotFound
	}
	if err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal(snapshotJSON, &checkpoint.Snapshot); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal(readyJSON, &checkpoint.Ready); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal ready set: %w", err)
	}
	if err := json.Unmarshal(recordedIOsJSON, &checkpoint.RecordedIOs); err != nil {
		return CheckpointV2{}, fmt.Errorf("failed to unmarshal recorded IOs: %w", err)
	}

	return checkpoint, nil
}

// CheckIdempotency verifies if an idempotency key has been used.
func (m *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}

	query := `SELECT COUNT(*) FROM idempotency_keys WHERE key_value = ?`

	var count int
	if err := m.db.QueryRowContext(ctx, query, key).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	return count > 0, nil
}

// PendingEvents retrieves events from the outbox that haven't been emitted yet.
func (m *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, execution_id, event_data
		FROM events_outbox
		WHERE emitted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []events.Event
	for rows.Next() {
		var (
			id          string
			executionID string
			eventJSON   []byte
		)

		if err := rows.Scan(&id, &executionID, &eventJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		var event events.Event
		if err := json.Unmarshal(eventJSON, &event); err != nil {
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
func (m *MySQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := m.checkOpen(); err != nil {
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
		SET emitted_at = NOW()
		WHERE id IN (%s)
	`, placeholders)

	_, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark events as emitted: %w", err)
	}

	return nil
}

// checkOpen returns an error if the store has already been closed.
func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

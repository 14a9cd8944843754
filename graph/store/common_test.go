package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sorryhyun/dipeo-engine-go/graph/store"
)

// TestIdempotencyAcrossStores verifies that idempotency enforcement works
// consistently across all Store implementations: MemStore, MySQLStore, SQLiteStore.
//
// All Store implementations must enforce idempotency to prevent duplicate
// checkpoint commits during retries or crash recovery.
func TestIdempotencyAcrossStores(t *testing.T) {
	executionID := "idempotency-test-" + time.Now().Format("20060102-150405")
	snapshot1 := store.Snapshot{ExecutionID: executionID, ExecCount: map[string]int{"n1": 1}}
	snapshot2 := store.Snapshot{ExecutionID: executionID, ExecCount: map[string]int{"n1": 2}}

	key1 := "sha256:abc123def456ghi789"
	key2 := "sha256:jkl012mno345pqr678"

	checkpoint1 := store.CheckpointV2{
		ExecutionID:    executionID,
		Round:          1,
		Snapshot:       snapshot1,
		Ready:          []string{},
		RNGSeed:        12345,
		RecordedIOs:    []interface{}{},
		IdempotencyKey: key1,
		Timestamp:      time.Now(),
	}

	checkpoint2 := store.CheckpointV2{
		ExecutionID:    executionID,
		Round:          2,
		Snapshot:       snapshot2,
		Ready:          []string{},
		RNGSeed:        67890,
		RecordedIOs:    []interface{}{},
		IdempotencyKey: key2,
		Timestamp:      time.Now(),
	}

	checkpoint1Duplicate := store.CheckpointV2{
		ExecutionID:    executionID,
		Round:          3, // Different round
		Snapshot:       store.Snapshot{ExecutionID: executionID, ExecCount: map[string]int{"n1": 999}},
		Ready:          []string{},
		RNGSeed:        99999,
		RecordedIOs:    []interface{}{},
		IdempotencyKey: key1, // DUPLICATE KEY
		Timestamp:      time.Now(),
	}

	testScenarios := []struct {
		name      string
		storeFunc func(*testing.T) (store.Store, func())
	}{
		{
			name: "MemStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				return store.NewMemStore(), func() {}
			},
		},
		{
			name: "SQLiteStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				tmpDir := t.TempDir()
				dbPath := filepath.Join(tmpDir, "test.db")

				st, err := store.NewSQLiteStore(dbPath)
				if err != nil {
					t.Fatalf("Failed to create SQLiteStore: %v", err)
				}

				return st, func() { st.Close() }
			},
		},
		{
			name: "MySQLStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				dsn := os.Getenv("TEST_MYSQL_DSN")
				if dsn == "" {
					t.Skip("Skipping MySQL test: TEST_MYSQL_DSN not set")
				}

				st, err := store.NewMySQLStore(dsn)
				if err != nil {
					t.Fatalf("Failed to create MySQLStore: %v", err)
				}

				return st, func() { st.Close() }
			},
		},
	}

	for _, scenario := range testScenarios {
		t.Run(scenario.name, func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			err := st.SaveCheckpointV2(ctx, checkpoint1)
			if err != nil {
				t.Fatalf("First checkpoint save failed: %v", err)
			}

			exists, err := st.CheckIdempotency(ctx, key1)
			if err != nil {
				t.Fatalf("CheckIdempotency failed: %v", err)
			}
			if !exists {
				t.Error("Idempotency key was not recorded after save")
			}

			err = st.SaveCheckpointV2(ctx, checkpoint1Duplicate)
			if err == nil {
				t.Fatal("Duplicate idempotency key was not rejected")
			}

			_, err = st.LoadCheckpointV2(ctx, executionID, 3)
			if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Duplicate checkpoint should not exist, got error: %v", err)
			}

			loaded, err := st.LoadCheckpointV2(ctx, executionID, 1)
			if err != nil {
				t.Fatalf("Failed to load first checkpoint: %v", err)
			}
			if loaded.Snapshot.ExecCount["n1"] != snapshot1.ExecCount["n1"] {
				t.Errorf("First checkpoint was modified: got=%d, want=%d",
					loaded.Snapshot.ExecCount["n1"], snapshot1.ExecCount["n1"])
			}

			err = st.SaveCheckpointV2(ctx, checkpoint2)
			if err != nil {
				t.Fatalf("Second checkpoint with different key failed: %v", err)
			}

			exists, err = st.CheckIdempotency(ctx, key2)
			if err != nil {
				t.Fatalf("CheckIdempotency for key2 failed: %v", err)
			}
			if !exists {
				t.Error("Second idempotency key was not recorded")
			}

			loaded1, err := st.LoadCheckpointV2(ctx, executionID, 1)
			if err != nil {
				t.Fatalf("Failed to load checkpoint 1: %v", err)
			}
			if loaded1.Snapshot.ExecCount["n1"] != snapshot1.ExecCount["n1"] {
				t.Errorf("Checkpoint 1 state mismatch: got=%d, want=%d",
					loaded1.Snapshot.ExecCount["n1"], snapshot1.ExecCount["n1"])
			}

			loaded2, err := st.LoadCheckpointV2(ctx, executionID, 2)
			if err != nil {
				t.Fatalf("Failed to load checkpoint 2: %v", err)
			}
			if loaded2.Snapshot.ExecCount["n1"] != snapshot2.ExecCount["n1"] {
				t.Errorf("Checkpoint 2 state mismatch: got=%d, want=%d",
					loaded2.Snapshot.ExecCount["n1"], snapshot2.ExecCount["n1"])
			}

			for _, key := range []string{key1, key2} {
				exists, err := st.CheckIdempotency(ctx, key)
				if err != nil {
					t.Errorf("CheckIdempotency for key %s failed: %v", key, err)
				}
				if !exists {
					t.Errorf("Idempotency key %s missing after all operations", key)
				}
			}
		})
	}
}

// TestStoreContractConsistency verifies that all Store implementations behave
// consistently for core operations.
func TestStoreContractConsistency(t *testing.T) {
	testScenarios := []struct {
		name      string
		storeFunc func(*testing.T) (store.Store, func())
	}{
		{
			name: "MemStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				return store.NewMemStore(), func() {}
			},
		},
		{
			name: "SQLiteStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				tmpDir := t.TempDir()
				dbPath := filepath.Join(tmpDir, "test.db")
				st, err := store.NewSQLiteStore(dbPath)
				if err != nil {
					t.Fatalf("Failed to create SQLiteStore: %v", err)
				}
				return st, func() { st.Close() }
			},
		},
		{
			name: "MySQLStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				dsn := os.Getenv("TEST_MYSQL_DSN")
				if dsn == "" {
					t.Skip("Skipping MySQL test: TEST_MYSQL_DSN not set")
				}
				st, err := store.NewMySQLStore(dsn)
				if err != nil {
					t.Fatalf("Failed to create MySQLStore: %v", err)
				}
				return st, func() { st.Close() }
			},
		},
	}

	for _, scenario := range testScenarios {
		t.Run(scenario.name+"/SaveLoadCheckpointV2", func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			executionID := "consistency-test-" + scenario.name
			checkpoint := store.CheckpointV2{
				ExecutionID:    executionID,
				Round:          1,
				Snapshot:       store.Snapshot{ExecutionID: executionID, ExecCount: map[string]int{"n1": 42}},
				Ready:          []string{},
				RNGSeed:        123,
				RecordedIOs:    []interface{}{},
				IdempotencyKey: "sha256:test123",
				Timestamp:      time.Now(),
			}

			err := st.SaveCheckpointV2(ctx, checkpoint)
			if err != nil {
				t.Fatalf("SaveCheckpointV2 failed: %v", err)
			}

			loaded, err := st.LoadCheckpointV2(ctx, executionID, 1)
			if err != nil {
				t.Fatalf("LoadCheckpointV2 failed: %v", err)
			}

			if loaded.ExecutionID != checkpoint.ExecutionID {
				t.Errorf("ExecutionID mismatch: got=%s, want=%s", loaded.ExecutionID, checkpoint.ExecutionID)
			}
			if loaded.Round != checkpoint.Round {
				t.Errorf("Round mismatch: got=%d, want=%d", loaded.Round, checkpoint.Round)
			}
			if loaded.Snapshot.ExecCount["n1"] != checkpoint.Snapshot.ExecCount["n1"] {
				t.Errorf("Snapshot mismatch: got=%d, want=%d", loaded.Snapshot.ExecCount["n1"], checkpoint.Snapshot.ExecCount["n1"])
			}
			if loaded.RNGSeed != checkpoint.RNGSeed {
				t.Errorf("RNGSeed mismatch: got=%d, want=%d", loaded.RNGSeed, checkpoint.RNGSeed)
			}
			if loaded.IdempotencyKey != checkpoint.IdempotencyKey {
				t.Errorf("IdempotencyKey mismatch: got=%s, want=%s", loaded.IdempotencyKey, checkpoint.IdempotencyKey)
			}
		})

		t.Run(scenario.name+"/LoadNonexistentCheckpoint", func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			_, err := st.LoadCheckpointV2(ctx, "nonexistent-run", 999)
			if !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got: %v", err)
			}
		})
	}
}

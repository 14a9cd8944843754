package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return st
}

// TestSQLiteStore_SaveLoadRound verifies SaveRound and LoadLatest work correctly.
func TestSQLiteStore_SaveLoadRound(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	snapshot1 := Snapshot{Order: []string{"node-a"}, ExecCount: map[string]int{"node-a": 1}}
	if err := st.SaveRound(ctx, "exec-001", 1, snapshot1); err != nil {
		t.Fatalf("SaveRound failed: %v", err)
	}

	loaded, round, err := st.LoadLatest(ctx, "exec-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if round != 1 {
		t.Errorf("expected round = 1, got %d", round)
	}
	if loaded.ExecCount["node-a"] != 1 {
		t.Errorf("expected ExecCount[node-a] = 1, got %d", loaded.ExecCount["node-a"])
	}

	snapshot2 := Snapshot{Order: []string{"node-a", "node-b"}}
	snapshot3 := Snapshot{Order: []string{"node-a", "node-b", "node-c"}}
	_ = st.SaveRound(ctx, "exec-001", 2, snapshot2)
	_ = st.SaveRound(ctx, "exec-001", 3, snapshot3)

	loaded, round, err = st.LoadLatest(ctx, "exec-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if round != 3 {
		t.Errorf("expected round = 3, got %d", round)
	}
	if len(loaded.Order) != 3 {
		t.Errorf("expected 3 entries in Order, got %d", len(loaded.Order))
	}

	// Out-of-order saves: save round 5 then round 4.
	_ = st.SaveRound(ctx, "exec-001", 5, Snapshot{Order: []string{"r5"}})
	_ = st.SaveRound(ctx, "exec-001", 4, Snapshot{Order: []string{"r4"}})

	loaded, round, err = st.LoadLatest(ctx, "exec-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if round != 5 {
		t.Errorf("expected round = 5 (highest), got %d", round)
	}
	if loaded.Order[0] != "r5" {
		t.Errorf("expected Order[0] = 'r5', got %q", loaded.Order[0])
	}

	_, _, err = st.LoadLatest(ctx, "nonexistent-exec")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for nonexistent execution, got: %v", err)
	}

	_ = st.SaveRound(ctx, "exec-002", 1, Snapshot{Order: []string{"x"}})
	loadedExec2, roundExec2, err := st.LoadLatest(ctx, "exec-002")
	if err != nil {
		t.Fatalf("LoadLatest for exec-002 failed: %v", err)
	}
	if roundExec2 != 1 || loadedExec2.Order[0] != "x" {
		t.Errorf("exec-002 data mismatch: round=%d order=%v", roundExec2, loadedExec2.Order)
	}
}

// TestSQLiteStore_Checkpoint verifies legacy checkpoint save/load.
func TestSQLiteStore_Checkpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	snapshot := Snapshot{Order: []string{"node-a", "node-b"}}
	if err := st.SaveCheckpoint(ctx, "cp-001", snapshot, 7); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, round, err := st.LoadCheckpoint(ctx, "cp-001")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if round != 7 {
		t.Errorf("expected round = 7, got %d", round)
	}
	if len(loaded.Order) != 2 {
		t.Errorf("expected 2 entries, got %d", len(loaded.Order))
	}

	_, _, err = st.LoadCheckpoint(ctx, "nonexistent-cp")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSQLiteStore_CheckpointV2 verifies enhanced checkpoint save/load with replay context.
func TestSQLiteStore_CheckpointV2(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	checkpoint := CheckpointV2{
		ExecutionID:    "exec-001",
		Round:          2,
		Snapshot:       Snapshot{Order: []string{"node-a"}, ExecCount: map[string]int{"node-a": 1}},
		Ready:          []string{"node-b", "node-c"},
		RNGSeed:        42,
		RecordedIOs:    []interface{}{map[string]interface{}{"url": "http://example.com"}},
		IdempotencyKey: "sha256:checkpoint1",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		Label:          "milestone-1",
	}

	if err := st.SaveCheckpointV2(ctx, checkpoint); err != nil {
		t.Fatalf("SaveCheckpointV2 failed: %v", err)
	}

	loaded, err := st.LoadCheckpointV2(ctx, "exec-001", 2)
	if err != nil {
		t.Fatalf("LoadCheckpointV2 failed: %v", err)
	}

	if loaded.ExecutionID != checkpoint.ExecutionID {
		t.Errorf("ExecutionID mismatch: got=%s, want=%s", loaded.ExecutionID, checkpoint.ExecutionID)
	}
	if len(loaded.Ready) != 2 {
		t.Errorf("expected 2 ready nodes, got %d", len(loaded.Ready))
	}
	if loaded.RNGSeed != checkpoint.RNGSeed {
		t.Errorf("RNGSeed mismatch: got=%d, want=%d", loaded.RNGSeed, checkpoint.RNGSeed)
	}
	if loaded.Label != checkpoint.Label {
		t.Errorf("Label mismatch: got=%s, want=%s", loaded.Label, checkpoint.Label)
	}
}

// TestSQLiteStore_Idempotency verifies duplicate idempotency keys are rejected.
func TestSQLiteStore_Idempotency(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	cp1 := CheckpointV2{
		ExecutionID:    "exec-001",
		Round:          1,
		Snapshot:       Snapshot{},
		IdempotencyKey: "sha256:dup-key",
	}
	if err := st.SaveCheckpointV2(ctx, cp1); err != nil {
		t.Fatalf("first SaveCheckpointV2 failed: %v", err)
	}

	exists, err := st.CheckIdempotency(ctx, "sha256:dup-key")
	if err != nil || !exists {
		t.Fatalf("expected idempotency key to be recorded, exists=%v err=%v", exists, err)
	}

	cp2 := cp1
	cp2.Round = 2
	if err := st.SaveCheckpointV2(ctx, cp2); err == nil {
		t.Fatal("expected duplicate idempotency key to be rejected")
	}

	if _, err := st.LoadCheckpointV2(ctx, "exec-001", 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("duplicate checkpoint should not have been saved, got %v", err)
	}
}

// TestSQLiteStore_Outbox verifies the transactional outbox pattern.
func TestSQLiteStore_Outbox(t *testing.T) {
	// SQLiteStore's PendingEvents/MarkEventsEmitted query the events_outbox
	// table directly; without a populating API in Store, verify the
	// zero-row and malformed-id paths are handled gracefully.
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	pending, err := st.PendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("PendingEvents on empty outbox failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending events, got %d", len(pending))
	}

	if err := st.MarkEventsEmitted(ctx, []string{"nonexistent-id"}); err != nil {
		t.Errorf("MarkEventsEmitted on nonexistent id should not error, got %v", err)
	}

	if err := st.MarkEventsEmitted(ctx, nil); err != nil {
		t.Errorf("MarkEventsEmitted(nil) should be a no-op, got %v", err)
	}
}

// TestSQLiteStore_ConcurrentReads verifies the store tolerates concurrent access.
func TestSQLiteStore_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	defer st.Close()

	_ = st.SaveRound(ctx, "exec-001", 1, Snapshot{Order: []string{"node-a"}})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := st.LoadLatest(ctx, "exec-001"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent LoadLatest failed: %v", err)
	}
}

// TestSQLiteStore_CloseAndReopen verifies data survives a close/reopen cycle.
func TestSQLiteStore_CloseAndReopen(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "reopen.db")

	st1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	_ = st1.SaveRound(ctx, "exec-001", 1, Snapshot{Order: []string{"node-a"}})
	if err := st1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen NewSQLiteStore failed: %v", err)
	}
	defer st2.Close()

	loaded, round, err := st2.LoadLatest(ctx, "exec-001")
	if err != nil {
		t.Fatalf("LoadLatest after reopen failed: %v", err)
	}
	if round != 1 || loaded.Order[0] != "node-a" {
		t.Errorf("data did not survive reopen: round=%d order=%v", round, loaded.Order)
	}
}

// TestSQLiteStore_ClosedStoreErrors verifies operations fail after Close.
func TestSQLiteStore_ClosedStoreErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Closing twice must be a no-op, not an error.
	if err := st.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if err := st.SaveRound(ctx, "exec-001", 1, Snapshot{}); err == nil {
		t.Error("expected SaveRound on closed store to error")
	}
	if _, _, err := st.LoadLatest(ctx, "exec-001"); err == nil {
		t.Error("expected LoadLatest on closed store to error")
	}
	if err := st.Ping(ctx); err == nil {
		t.Error("expected Ping on closed store to error")
	}
}

// TestSQLiteStore_InterfaceCompliance verifies SQLiteStore implements Store.
func TestSQLiteStore_InterfaceCompliance(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
}

// TestSQLiteStore_PathAccessor verifies Path returns the configured file path.
func TestSQLiteStore_PathAccessor(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "named.db")
	st, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer st.Close()

	if st.Path() != dbPath {
		t.Errorf("expected Path() = %q, got %q", dbPath, st.Path())
	}
}

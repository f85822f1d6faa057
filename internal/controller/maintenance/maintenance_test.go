package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/controller/runs"
	"github.com/kennethnrk/echo/internal/store"
)

func failedRuns(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		run, err := runs.StartRun(s, "p1", constants.ModalityText)
		if err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
		if err := runs.UpdateRunStatus(s, run.ID, constants.RunStatusFailed, nil); err != nil {
			t.Fatalf("UpdateRunStatus() error = %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandleLedgerPrunesAndCompacts(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()

	failedRuns(t, s, 5)
	walPath := filepath.Join(dir, store.WALFile)
	before, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}

	if err := HandleLedger(s, 2); err != nil {
		t.Fatalf("HandleLedger() error = %v", err)
	}
	left, err := runs.ListRuns(s)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("runs after pruning = %d, want 2", len(left))
	}
	after, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("stat wal: %v", err)
	}
	if after.Size() >= before.Size() {
		t.Fatalf("wal size %d not reduced from %d", after.Size(), before.Size())
	}

	if err := HandleLedger(s, 2); err != nil {
		t.Fatalf("second HandleLedger() error = %v", err)
	}
}

func TestStartLedgerMaintenanceStopsWithContext(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer s.Close()
	failedRuns(t, s, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartLedgerMaintenance(ctx, s, time.Hour, 1)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		left, err := runs.ListRuns(s)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(left) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("initial maintenance did not run, %d runs left", len(left))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StartLedgerMaintenance did not return after cancel")
	}
}

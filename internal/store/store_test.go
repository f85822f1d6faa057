package store_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kennethnrk/echo/internal/store"
)

// TestStoreCRUDAndReplay verifies basic operations and WAL replay.
func TestStoreCRUDAndReplay(t *testing.T) {
	dataDir := t.TempDir()

	s, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Put("run:a", []byte("1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok := s.Get("run:a")
	if !ok || string(got) != "1" {
		t.Fatalf("Get(run:a) = %q, %v, want %q, true", got, ok, "1")
	}

	// Returned values are copies.
	got[0] = 'x'
	if again, _ := s.Get("run:a"); string(again) != "1" {
		t.Fatalf("Get() exposed internal buffer, got %q", again)
	}

	if err := s.Put("run:b", []byte("2")); err != nil {
		t.Fatalf("Put(run:b) error = %v", err)
	}
	if err := s.Put("project:p", []byte("3")); err != nil {
		t.Fatalf("Put(project:p) error = %v", err)
	}
	if err := s.Delete("run:a"); err != nil {
		t.Fatalf("Delete(run:a) error = %v", err)
	}
	if err := s.Delete("run:missing"); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("Open() after replay error = %v", err)
	}
	defer s2.Close()

	if _, ok := s2.Get("run:a"); ok {
		t.Fatalf("Get(run:a) after replay = present, want missing")
	}
	if keys := s2.Keys(); strings.Join(keys, ",") != "project:p,run:b" {
		t.Fatalf("Keys() after replay = %v, want [project:p run:b]", keys)
	}
	if keys := s2.KeysWithPrefix("run:"); len(keys) != 1 || keys[0] != "run:b" {
		t.Fatalf("KeysWithPrefix(run:) = %v, want [run:b]", keys)
	}
}

// TestStoreEmptyKeyErrors ensures empty keys are rejected.
func TestStoreEmptyKeyErrors(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if err := s.Put("", []byte("x")); !errors.Is(err, store.ErrEmptyKey) {
		t.Fatalf("Put(\"\") error = %v, want ErrEmptyKey", err)
	}
	if err := s.Delete(""); !errors.Is(err, store.ErrEmptyKey) {
		t.Fatalf("Delete(\"\") error = %v, want ErrEmptyKey", err)
	}
}

// TestStoreCorruptWAL covers the decode and unknown-op paths of replay.
func TestStoreCorruptWAL(t *testing.T) {
	for name, line := range map[string]string{
		"json":    "not-json\n",
		"unknown": `{"op":"unknown","key":"k"}` + "\n",
	} {
		dataDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dataDir, store.WALFile), []byte(line), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := store.Open(dataDir); err == nil {
			t.Fatalf("%s: Open() with corrupt WAL error = nil, want non-nil", name)
		}
	}
}

// TestStoreCompact checks that compaction keeps live keys and shrinks the log.
func TestStoreCompact(t *testing.T) {
	dataDir := t.TempDir()
	s, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := s.Put("k", []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if err := s.Put("gone", []byte("x")); err != nil {
		t.Fatalf("Put(gone) error = %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete(gone) error = %v", err)
	}

	walPath := filepath.Join(dataDir, store.WALFile)
	before, _ := os.Stat(walPath)
	if err := s.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	after, _ := os.Stat(walPath)
	if after.Size() >= before.Size() {
		t.Fatalf("Compact() size %d, want < %d", after.Size(), before.Size())
	}

	// Writes still go to the new log.
	if err := s.Put("k2", []byte("after")); err != nil {
		t.Fatalf("Put() after Compact error = %v", err)
	}
	s.Close()

	s2, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("Open() after Compact error = %v", err)
	}
	defer s2.Close()
	if v, _ := s2.Get("k"); string(v) != "v19" {
		t.Fatalf("Get(k) = %q, want v19", v)
	}
	if v, _ := s2.Get("k2"); string(v) != "after" {
		t.Fatalf("Get(k2) = %q, want after", v)
	}
	if _, ok := s2.Get("gone"); ok {
		t.Fatalf("Get(gone) = present, want missing")
	}
}

// TestStoreClose ensures Close is idempotent and later writes fail.
func TestStoreClose(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := s.Put("k", []byte("v")); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Put() after Close error = %v, want ErrClosed", err)
	}
}

// TestStoreConcurrentAccess runs readers and writers together.
func TestStoreConcurrentAccess(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	const (
		numWriters    = 4
		numReaders    = 4
		numIterations = 50
	)

	var wg sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < numIterations; i++ {
				if err := s.Put(fmt.Sprintf("writer-%d-%d", id, i), []byte("value")); err != nil {
					t.Errorf("Put() error in writer %d: %v", id, err)
					return
				}
			}
		}(w)
	}
	for r := 0; r < numReaders; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(200 * time.Millisecond)
			for time.Now().Before(deadline) {
				for _, k := range s.KeysWithPrefix("writer-") {
					_, _ = s.Get(k)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("concurrent access timed out")
	}

	if got := len(s.Keys()); got != numWriters*numIterations {
		t.Fatalf("Keys() len = %d, want %d", got, numWriters*numIterations)
	}
}

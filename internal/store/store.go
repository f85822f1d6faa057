// Package store is a small disk-backed key/value store. Every mutation is
// appended to a write-ahead log and fsynced; the in-memory map is rebuilt by
// replaying the log on open.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// WALFile is the log file name inside the data directory.
const WALFile = "echo.wal"

// maxRecordSize bounds a single log line on replay.
const maxRecordSize = 4 << 20

var (
	ErrEmptyKey = errors.New("empty key")
	ErrClosed   = errors.New("store is closed")
)

type opType string

const (
	opPut    opType = "put"
	opDelete opType = "delete"
)

type walRecord struct {
	Op    opType `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	walPath string
	wal     *os.File
}

// Open creates dataDir if needed and replays any existing log.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{
		data:    make(map[string][]byte),
		walPath: filepath.Join(dataDir, WALFile),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.walPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = f
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.walPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("decode wal record %d: %w", line, err)
		}
		switch rec.Op {
		case opPut:
			s.data[rec.Key] = rec.Value
		case opDelete:
			delete(s.data, rec.Key)
		default:
			return fmt.Errorf("wal record %d: unknown op %q", line, rec.Op)
		}
	}
	return scanner.Err()
}

// Put stores value under key.
func (s *Store) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(walRecord{Op: opPut, Key: key, Value: value}); err != nil {
		return err
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Get returns a copy of the value under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	if err := s.append(walRecord{Op: opDelete, Key: key}); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	return s.KeysWithPrefix("")
}

// KeysWithPrefix returns the sorted keys that start with prefix.
func (s *Store) KeysWithPrefix(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Compact rewrites the log so it holds exactly one put per live key.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return ErrClosed
	}

	tmpPath := s.walPath + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create compacted wal: %w", err)
	}
	w := bufio.NewWriter(tmp)
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.Marshal(walRecord{Op: opPut, Key: k, Value: s.data[k]})
		if err != nil {
			tmp.Close()
			return fmt.Errorf("marshal wal record: %w", err)
		}
		w.Write(append(b, '\n'))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write compacted wal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync compacted wal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compacted wal: %w", err)
	}

	if err := s.wal.Close(); err != nil {
		return fmt.Errorf("close wal: %w", err)
	}
	if err := os.Rename(tmpPath, s.walPath); err != nil {
		return fmt.Errorf("replace wal: %w", err)
	}
	f, err := os.OpenFile(s.walPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.wal = nil
		return fmt.Errorf("reopen wal: %w", err)
	}
	s.wal = f
	return nil
}

// Close closes the log. Further writes fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal == nil {
		return nil
	}
	err := s.wal.Close()
	s.wal = nil
	return err
}

// append writes one record and fsyncs it. Callers hold s.mu.
func (s *Store) append(rec walRecord) error {
	if s.wal == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal wal record: %w", err)
	}
	if _, err := s.wal.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write wal: %w", err)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	return nil
}

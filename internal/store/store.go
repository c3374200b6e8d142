package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-bot/internal/core"
)

type JournalAction string

const (
	ActionPlaced   JournalAction = "placed"
	ActionFailed   JournalAction = "failed"
	ActionCanceled JournalAction = "canceled"
)

// JournalEntry is one line of the order journal.
type JournalEntry struct {
	Time   time.Time     `json:"time"`
	Mode   string        `json:"mode,omitempty"`
	Action JournalAction `json:"action"`
	Order  core.Order    `json:"order"`
	Error  string        `json:"error,omitempty"`
}

type SessionStatus struct {
	Mode         string    `json:"mode"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	RulesLoaded  bool      `json:"rules_loaded"`
	SymbolCount  int       `json:"symbol_count"`
	OrdersPlaced int       `json:"orders_placed"`
	OrdersFailed int       `json:"orders_failed"`
	LastError    string    `json:"last_error,omitempty"`
	StoppedAt    time.Time `json:"stopped_at,omitempty"`
}

// Journal is what the trader persists through; *Store implements it.
type Journal interface {
	AppendOrder(entry JournalEntry) error
	Recent(n int) ([]JournalEntry, error)
	SaveSessionStatus(status SessionStatus) error
}

var _ Journal = (*Store)(nil)

type Store struct {
	root string
	log  zerolog.Logger
	mu   sync.Mutex
}

func New(root string, log zerolog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, log: log.With().Str("component", "store").Logger()}, nil
}

// AppendOrder writes entry to orders/YYYY-MM-DD.jsonl for the entry's UTC day.
func (s *Store) AppendOrder(entry JournalEntry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	entry.Time = entry.Time.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.ordersDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, entry.Time.Format("2006-01-02")+".jsonl")
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Recent returns up to n journal entries, newest first. Unreadable lines are
// skipped.
func (s *Store) Recent(n int) ([]JournalEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(s.ordersDir(), "*.jsonl"))
	if err != nil {
		return nil, err
	}
	// Day files sort lexically by date.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	out := make([]JournalEntry, 0, n)
	for _, path := range files {
		entries, err := s.readJournalFile(path)
		if err != nil {
			return nil, err
		}
		for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
			out = append(out, entries[i])
		}
		if len(out) >= n {
			break
		}
	}
	return out, nil
}

func (s *Store) readJournalFile(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 2*1024*1024)
	var entries []JournalEntry
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			s.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skip unreadable journal line")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func (s *Store) SaveSessionStatus(status SessionStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	status.LastError = strings.TrimSpace(status.LastError)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONAtomic(s.sessionPath(), status)
}

func (s *Store) LoadSessionStatus() (SessionStatus, bool, error) {
	data, err := os.ReadFile(s.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return SessionStatus{}, false, nil
		}
		return SessionStatus{}, false, err
	}
	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return SessionStatus{}, false, err
	}
	return status, true, nil
}

func (s *Store) ordersDir() string {
	return filepath.Join(s.root, "orders")
}

func (s *Store) sessionPath() string {
	return filepath.Join(s.root, "session.json")
}

func (s *Store) writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	s.fsyncDirBestEffort(dir, path)
	return nil
}

func (s *Store) fsyncDirBestEffort(dir, path string) {
	d, err := os.Open(dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Str("target", path).Msg("dir fsync skipped")
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		s.log.Warn().Err(err).Str("dir", dir).Str("target", path).Msg("dir fsync failed")
	}
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/logging"

	_ "modernc.org/sqlite"
)

// Store provides access to the smartsearch SQLite database. It is the only
// writer of the session slot.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	mu  sync.Mutex
	now func() time.Time
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smartsearch", "smartsearch.sqlite")
}

// Open opens (creating if needed) the database with WAL and ensures the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, log: log.With("component", "db"), now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadAll returns the saved sessions, most recently updated first. Missing
// or corrupt data yields an empty list.
func (s *Store) LoadAll() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := readSessions(s.db)
	if err != nil {
		s.log.Warn("load sessions", "error", err)
		return nil
	}
	return sessions
}

// LoadByID returns the saved session with the given id.
func (s *Store) LoadByID(id string) (chat.Session, bool) {
	for _, sess := range s.LoadAll() {
		if sess.ID == id {
			return sess, true
		}
	}
	return chat.Session{}, false
}

// Save upserts session into the slot and keeps the MaxSessions most
// recently updated entries. The read-modify-write runs in one transaction.
// Failures are logged; the caller keeps working from memory.
func (s *Store) Save(session chat.Session) {
	if err := s.save(session); err != nil {
		s.log.Warn("save session", "id", session.ID, "error", err)
	}
}

func (s *Store) save(session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	existing, err := readSessions(tx)
	if err != nil {
		// A corrupt slot is replaced rather than blocking every future save.
		s.log.Warn("discard unreadable sessions", "error", err)
		existing = nil
	}

	data, err := json.Marshal(merge(existing, session))
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	if err := put(tx, SessionsKey, string(data), s.now()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// merge replaces the entry with the same id or prepends session, then
// orders by UpdatedAt descending and truncates to MaxSessions.
func merge(existing []chat.Session, session chat.Session) []chat.Session {
	out := make([]chat.Session, 0, len(existing)+1)
	replaced := false
	for _, s := range existing {
		if s.ID == session.ID {
			out = append(out, session)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append([]chat.Session{session}, out...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > MaxSessions {
		out = out[:MaxSessions]
	}
	return out
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// get returns the raw value stored under key and when it was written.
// ok is false when absent.
func get(q queryRower, key string) (value string, updatedAt time.Time, ok bool, err error) {
	var ts float64
	row := q.QueryRow(`SELECT value, updatedAt FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, timeFromUnix(ts), true, nil
}

// put replaces the value stored under key.
func put(e execer, key, value string, now time.Time) error {
	_, err := e.Exec(`
		INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, key, value, unixFromTime(now))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func readSessions(q queryRower) ([]chat.Session, error) {
	raw, _, ok, err := get(q, SessionsKey)
	if err != nil || !ok {
		return nil, err
	}

	var sessions []chat.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return sessions, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// SlotUpdatedAt reports when the session slot was last written.
func (s *Store) SlotUpdatedAt() (time.Time, bool, error) {
	_, ts, ok, err := get(s.db, SessionsKey)
	return ts, ok, err
}

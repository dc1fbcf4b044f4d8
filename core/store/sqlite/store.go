// Package sqlite persists conversations, scope settings, documents, members
// and document embeddings in a single SQLite database.
//
// Every write notifies the in-process subscribers of the affected scope with
// the full, freshly read state.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/koscakluka/ema-persona/core/conversations"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	path string

	messageSubs  subscribers[[]conversations.Message]
	settingsSubs subscribers[conversations.Settings]
	documentSubs subscribers[[]conversations.Document]
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		scope TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		transcript TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		video_urls_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(scope, seq);

	CREATE TABLE IF NOT EXISTS settings (
		scope TEXT PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		scope TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		uploaded_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_scope ON documents(scope, seq);

	CREATE TABLE IF NOT EXISTS members (
		company_id TEXT NOT NULL,
		email TEXT NOT NULL,
		added_at INTEGER NOT NULL,
		PRIMARY KEY (company_id, email)
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		scope TEXT NOT NULL,
		id TEXT NOT NULL,
		text TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		vector BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, id)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func now() int64 { return time.Now().UTC().UnixNano() }

func fromUnixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// subscribers fans out state changes of one kind per scope.
type subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	byKey  map[conversations.Scope]map[int]func(T)
}

func (s *subscribers[T]) add(scope conversations.Scope, fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKey == nil {
		s.byKey = map[conversations.Scope]map[int]func(T){}
	}
	if s.byKey[scope] == nil {
		s.byKey[scope] = map[int]func(T){}
	}
	id := s.nextID
	s.nextID++
	s.byKey[scope][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.byKey[scope], id)
			if len(s.byKey[scope]) == 0 {
				delete(s.byKey, scope)
			}
		})
	}
}

func (s *subscribers[T]) has(scope conversations.Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey[scope]) > 0
}

// notify calls the subscribers outside the lock so they may unsubscribe.
func (s *subscribers[T]) notify(scope conversations.Scope, value T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.byKey[scope]))
	for _, fn := range s.byKey[scope] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/specrunner/internal/scheduler"
)

// ErrTaskNotFound is returned by operations on a task id that is not stored.
var ErrTaskNotFound = errors.New("task not found")

// opTimeout bounds each store operation.
const opTimeout = 5 * time.Second

// ConversationTurn represents a single message in a task's conversation history.
type ConversationTurn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Store defines the persistence interface for tasks and conversation history.
type Store interface {
	// Tasks
	SaveTask(ctx context.Context, task scheduler.Task) error
	GetSpec(ctx context.Context, id string) (scheduler.Task, bool, error)
	ListSpecs(ctx context.Context) ([]scheduler.Task, error)
	UpdateTaskStatus(ctx context.Context, id, status string) error
	DeleteTask(ctx context.Context, id string) error

	// Change notification
	Subscribe(fn func(taskID string)) (unsubscribe func())

	// Conversation history
	SaveMessage(ctx context.Context, taskID, role, content string) error
	GetHistory(ctx context.Context, taskID string) ([]ConversationTurn, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	subMu   sync.Mutex
	subs    map[uint64]func(string)
	nextSub uint64
}

// NewSQLiteStore opens (creating if needed) the store at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, dsn)
}

// NewMemoryStore creates a private in-memory store, mainly for tests.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	// A unique name keeps stores apart while the shared cache lets the
	// pool's connections see the same database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", uuid.NewString())
	return open(ctx, dsn)
}

func open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{
		db:   db,
		subs: make(map[uint64]func(string)),
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Subscribe registers fn to be called with the id of every task that is
// saved, updated or deleted. fn runs on the mutating goroutine after the
// change is committed.
func (s *SQLiteStore) Subscribe(fn func(taskID string)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *SQLiteStore) notify(taskID string) {
	s.subMu.Lock()
	fns := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(taskID)
	}
}

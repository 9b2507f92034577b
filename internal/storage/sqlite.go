package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements ConversationStore using SQLite
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	prepared map[string]*sql.Stmt
}

// NewSQLiteStore creates a new SQLite conversation store
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}
}

// Initialize sets up the database connection and creates necessary tables
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db

	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

// createTables creates the users document table
func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE,
		blackbox_chat TEXT NULL,
		gemini_chat TEXT NULL,
		oracle_chat TEXT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// prepareStatements prepares frequently used SQL statements
func (s *SQLiteStore) prepareStatements() error {
	for name, query := range documentStatements() {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	for _, stmt := range s.prepared {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FindOne retrieves the document for a user id
func (s *SQLiteStore) FindOne(ctx context.Context, userID int64) (*UserDocument, error) {
	stmt := s.prepared["find_one"]
	if stmt == nil {
		return nil, fmt.Errorf("find_one statement not prepared")
	}

	doc, err := scanDocument(stmt.QueryRowContext(ctx, userID))
	if err == sql.ErrNoRows {
		return nil, nil // No document found, not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return doc, nil
}

// InsertOne creates a document holding one field
func (s *SQLiteStore) InsertOne(ctx context.Context, userID int64, field HistoryField, value json.RawMessage) (int64, error) {
	if err := checkField(field); err != nil {
		return 0, err
	}

	stmt := s.prepared[statementName("insert", field)]
	if stmt == nil {
		return 0, fmt.Errorf("insert statement for %s not prepared", field)
	}

	now := time.Now().Unix()
	result, err := stmt.ExecContext(ctx, userID, string(value), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	return id, nil
}

// UpdateField sets a field on the document with the given internal id
func (s *SQLiteStore) UpdateField(ctx context.Context, id int64, field HistoryField, value json.RawMessage) error {
	if err := checkField(field); err != nil {
		return err
	}

	stmt := s.prepared[statementName("update", field)]
	if stmt == nil {
		return fmt.Errorf("update statement for %s not prepared", field)
	}

	if _, err := stmt.ExecContext(ctx, string(value), time.Now().Unix(), id); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	return nil
}

// UnsetField clears a field on the document for a user id
func (s *SQLiteStore) UnsetField(ctx context.Context, userID int64, field HistoryField) error {
	if err := checkField(field); err != nil {
		return err
	}

	stmt := s.prepared[statementName("unset", field)]
	if stmt == nil {
		return fmt.Errorf("unset statement for %s not prepared", field)
	}

	if _, err := stmt.ExecContext(ctx, time.Now().Unix(), userID); err != nil {
		return fmt.Errorf("failed to unset field: %w", err)
	}

	return nil
}

// HealthCheck verifies that the database connection is working
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM users LIMIT 1")
	if err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}

	return nil
}

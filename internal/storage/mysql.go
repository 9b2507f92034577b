package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore implements ConversationStore using MySQL
type MySQLStore struct {
	db       *sql.DB
	dsn      string
	prepared map[string]*sql.Stmt
}

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Timeout  string
}

// NewMySQLStore creates a new MySQL conversation store
func NewMySQLStore(config MySQLConfig) *MySQLStore {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&timeout=%s",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
		config.Timeout,
	)

	return &MySQLStore{
		dsn:      dsn,
		prepared: make(map[string]*sql.Stmt),
	}
}

// connectWithRetry attempts to connect to MySQL with exponential backoff retry logic
func (s *MySQLStore) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	const maxRetries = 5
	const baseDelay = time.Second

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		db, err := sql.Open("mysql", s.dsn)
		if err == nil {
			err = db.PingContext(ctx)
			if err == nil {
				return db, nil
			}
			db.Close()
			lastErr = fmt.Errorf("attempt %d: failed to ping database: %w", attempt+1, err)
		} else {
			lastErr = fmt.Errorf("attempt %d: failed to open database: %w", attempt+1, err)
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// isRetryableError checks if an error is retryable (network/connection issues)
func (s *MySQLStore) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"no such host",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

// executeWithRetry executes a database operation with retry logic for connection failures
func (s *MySQLStore) executeWithRetry(ctx context.Context, operation func() error) error {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !s.isRetryableError(err) {
			return err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

// Initialize sets up the database connection and creates necessary tables
func (s *MySQLStore) Initialize(ctx context.Context) error {
	db, err := s.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
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
func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			user_id BIGINT NOT NULL,
			blackbox_chat LONGTEXT NULL,
			gemini_chat LONGTEXT NULL,
			oracle_chat LONGTEXT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE KEY unique_user_id (user_id)
		) DEFAULT CHARSET=utf8mb4`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// prepareStatements prepares frequently used SQL statements
func (s *MySQLStore) prepareStatements() error {
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
func (s *MySQLStore) Close() error {
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
func (s *MySQLStore) FindOne(ctx context.Context, userID int64) (*UserDocument, error) {
	stmt := s.prepared["find_one"]
	if stmt == nil {
		return nil, fmt.Errorf("find_one statement not prepared")
	}

	var doc *UserDocument
	err := s.executeWithRetry(ctx, func() error {
		var scanErr error
		doc, scanErr = scanDocument(stmt.QueryRowContext(ctx, userID))
		return scanErr
	})

	if err == sql.ErrNoRows {
		return nil, nil // No document found, not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return doc, nil
}

// InsertOne creates a document holding one field
func (s *MySQLStore) InsertOne(ctx context.Context, userID int64, field HistoryField, value json.RawMessage) (int64, error) {
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
func (s *MySQLStore) UpdateField(ctx context.Context, id int64, field HistoryField, value json.RawMessage) error {
	if err := checkField(field); err != nil {
		return err
	}

	stmt := s.prepared[statementName("update", field)]
	if stmt == nil {
		return fmt.Errorf("update statement for %s not prepared", field)
	}

	err := s.executeWithRetry(ctx, func() error {
		_, execErr := stmt.ExecContext(ctx, string(value), time.Now().Unix(), id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	return nil
}

// UnsetField clears a field on the document for a user id
func (s *MySQLStore) UnsetField(ctx context.Context, userID int64, field HistoryField) error {
	if err := checkField(field); err != nil {
		return err
	}

	stmt := s.prepared[statementName("unset", field)]
	if stmt == nil {
		return fmt.Errorf("unset statement for %s not prepared", field)
	}

	err := s.executeWithRetry(ctx, func() error {
		_, execErr := stmt.ExecContext(ctx, time.Now().Unix(), userID)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to unset field: %w", err)
	}

	return nil
}

// HealthCheck verifies that the database connection is working
func (s *MySQLStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	return s.executeWithRetry(ctx, func() error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		_, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM users LIMIT 1")
		if err != nil {
			return fmt.Errorf("database health check query failed: %w", err)
		}

		return nil
	})
}

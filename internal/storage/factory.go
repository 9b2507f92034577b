package storage

import (
	"context"
	"fmt"
)

// Database types accepted by Open
const (
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
	TypeBolt   = "bolt"
	TypeMemory = "memory"
)

// Options selects and configures a ConversationStore implementation
type Options struct {
	Type  string
	Path  string // File path for sqlite and bolt
	MySQL MySQLConfig
}

// New builds an uninitialized store for the requested type
func New(opts Options) (ConversationStore, error) {
	switch opts.Type {
	case TypeSQLite, "":
		return NewSQLiteStore(opts.Path), nil
	case TypeMySQL:
		return NewMySQLStore(opts.MySQL), nil
	case TypeBolt:
		return NewBoltStore(opts.Path), nil
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", opts.Type)
	}
}

// Open builds the store and initializes it
func Open(ctx context.Context, opts Options) (ConversationStore, error) {
	store, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", opts.Type, err)
	}
	return store, nil
}

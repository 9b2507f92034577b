package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	usersBucket     = []byte("users")
	usersByIDBucket = []byte("users_by_id")
)

// BoltStore implements ConversationStore on a single BoltDB file.
// Documents live in the users bucket keyed by user id; users_by_id maps internal ids back to user ids.
type BoltStore struct {
	db     *bolt.DB
	dbPath string
}

// NewBoltStore creates a new BoltDB conversation store
func NewBoltStore(dbPath string) *BoltStore {
	return &BoltStore{dbPath: dbPath}
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// Initialize opens the BoltDB file and creates the buckets
func (s *BoltStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(s.dbPath, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(usersBucket); err != nil {
			return fmt.Errorf("failed to create users bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(usersByIDBucket); err != nil {
			return fmt.Errorf("failed to create users_by_id bucket: %w", err)
		}
		return nil
	})
}

// Close closes the BoltDB file
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func readDocument(tx *bolt.Tx, userID int64) (*UserDocument, error) {
	raw := tx.Bucket(usersBucket).Get(itob(userID))
	if raw == nil {
		return nil, nil
	}
	var doc UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %d: %w", userID, err)
	}
	if doc.Fields == nil {
		doc.Fields = make(map[HistoryField]json.RawMessage)
	}
	return &doc, nil
}

func writeDocument(tx *bolt.Tx, doc *UserDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %d: %w", doc.UserID, err)
	}
	return tx.Bucket(usersBucket).Put(itob(doc.UserID), raw)
}

// FindOne retrieves the document for a user id
func (s *BoltStore) FindOne(ctx context.Context, userID int64) (*UserDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc *UserDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		var readErr error
		doc, readErr = readDocument(tx, userID)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	return doc, nil
}

// InsertOne creates a document holding one field
func (s *BoltStore) InsertOne(ctx context.Context, userID int64, field HistoryField, value json.RawMessage) (int64, error) {
	if err := checkField(field); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := readDocument(tx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("document for user %d already exists", userID)
		}

		byID := tx.Bucket(usersByIDBucket)
		seq, err := byID.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)

		now := time.Now().Unix()
		doc := &UserDocument{
			ID:        id,
			UserID:    userID,
			Fields:    map[HistoryField]json.RawMessage{field: value},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := writeDocument(tx, doc); err != nil {
			return err
		}
		return byID.Put(itob(id), itob(userID))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}
	return id, nil
}

// UpdateField sets a field on the document with the given internal id
func (s *BoltStore) UpdateField(ctx context.Context, id int64, field HistoryField, value json.RawMessage) error {
	if err := checkField(field); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		userKey := tx.Bucket(usersByIDBucket).Get(itob(id))
		if userKey == nil {
			return nil // Nothing matched, same as an update with an empty filter result
		}
		doc, err := readDocument(tx, btoi(userKey))
		if err != nil || doc == nil {
			return err
		}
		doc.Fields[field] = value
		doc.UpdatedAt = time.Now().Unix()
		return writeDocument(tx, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

// UnsetField removes a field from the document for a user id
func (s *BoltStore) UnsetField(ctx context.Context, userID int64, field HistoryField) error {
	if err := checkField(field); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		doc, err := readDocument(tx, userID)
		if err != nil || doc == nil {
			return err
		}
		if _, ok := doc.Fields[field]; !ok {
			return nil
		}
		delete(doc.Fields, field)
		doc.UpdatedAt = time.Now().Unix()
		return writeDocument(tx, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to unset field: %w", err)
	}
	return nil
}

// HealthCheck verifies that the buckets are readable
func (s *BoltStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(usersBucket) == nil {
			return fmt.Errorf("users bucket missing")
		}
		return nil
	})
}

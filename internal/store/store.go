// Package store persists enrolled user templates and their metadata in a
// BadgerDB keyspace. Every record is sealed before it reaches the database:
// templates under a per-user wrapping key, wrapping keys under the system
// master key. The master key never leaves this package.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/kdf"
)

// Key prefixes for the different record types in BadgerDB. Wrapping keys are
// not kept in the database; see wrapkey.go.
const (
	templatePrefix = "user:template:"
	metaPrefix     = "user:meta:"
)

// Subkey labels for keys derived from the system master key.
const (
	auditSignLabel = "facevault/audit/sign/v1"
	auditSealLabel = "facevault/audit/seal/v1"
)

// Store owns the template database and the system master key.
type Store struct {
	db        *badger.DB
	masterKey []byte
	dir       string
	log       *logrus.Logger
}

// Open initializes the store under dir, creating the directory tree with
// owner-only permissions and generating the master key on first use.
func Open(dir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	dbDir := filepath.Join(dir, "db")
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if err := os.MkdirAll(filepath.Join(dir, wrapKeyDirName), 0o700); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	masterKey, err := loadOrCreateMasterKey(filepath.Join(dir, "master.key"))
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		embedding.ZeroBytes(masterKey)
		return nil, &StorageError{Op: "open", Err: err}
	}

	return &Store{db: db, masterKey: masterKey, dir: dir, log: logger}, nil
}

// Close wipes the in-memory master key and closes the database.
func (s *Store) Close() error {
	embedding.ZeroBytes(s.masterKey)
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// Dir returns the storage root.
func (s *Store) Dir() string { return s.dir }

// AuditKeys derives the audit log's signing and sealing keys from the master
// key. The audit subsystem never sees the master key itself.
func (s *Store) AuditKeys() (signKey, sealKey []byte, err error) {
	signKey, err = kdf.Subkey(s.masterKey, auditSignLabel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive audit signing key: %w", err)
	}
	sealKey, err = kdf.Subkey(s.masterKey, auditSealLabel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive audit sealing key: %w", err)
	}
	return signKey, sealKey, nil
}

func templateKey(userID string) []byte { return []byte(templatePrefix + userID) }
func metaKey(userID string) []byte     { return []byte(metaPrefix + userID) }

func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

package store

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/lumivault/facevault/internal/kdf"
)

const masterKeyMode = os.FileMode(0o600)

// loadOrCreateMasterKey reads the system master key, generating it with
// owner-only permissions on first open. The file holds raw key bytes; its
// confidentiality rests on filesystem permissions, which is the same trust
// the database directory itself requires.
func loadOrCreateMasterKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != kdf.KeySize {
			return nil, &StorageError{Op: "master key load", Err: fmt.Errorf("corrupt master key: %d bytes", len(key))}
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, &StorageError{Op: "master key load", Err: err}
	}

	key = make([]byte, kdf.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &StorageError{Op: "master key generate", Err: err}
	}
	if err := os.WriteFile(path, key, masterKeyMode); err != nil {
		return nil, &StorageError{Op: "master key write", Err: err}
	}
	return key, nil
}

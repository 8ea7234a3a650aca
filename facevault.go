// Package facevault protects files with a face as the sole credential. A
// face is enrolled once into an encrypted local template; afterwards the
// template both authenticates the user and feeds the key derivation that
// produces per-file encryption keys. Nothing leaves the device.
package facevault

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/store"
)

var log *logrus.Logger

// Vault is the top-level handle. One Vault owns one storage root; all
// operations go through it so locking, auditing and key custody stay in one
// place.
type Vault struct {
	store  *store.Store
	audit  *audit.Log
	config Config

	// captureMu serializes access to the capture device: one physical
	// camera, one active capture session system-wide.
	captureMu sync.Mutex

	// userLocks makes enrollment and authentication mutually exclusive per
	// user while letting different users proceed (up to the camera).
	userLocks sync.Map

	authCounter  uint64
	cryptCounter uint64
}

// Init opens or creates a vault at config.Path.
func Init(config *Config) (*Vault, error) {
	if config == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	log = config.Logger

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for vault: %w", err)
	}

	st, err := store.Open(config.Path, config.Logger)
	if err != nil {
		return nil, err
	}

	if err := checkDiskSpace(config.Path, config.MinimumFreeSpace); err != nil {
		st.Close()
		return nil, err
	}

	signKey, sealKey, err := st.AuditKeys()
	if err != nil {
		st.Close()
		return nil, err
	}
	auditLog, err := audit.Open(filepath.Join(config.Path, "logs"), signKey, sealKey, config.Logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Vault{
		store:  st,
		audit:  auditLog,
		config: *config,
	}, nil
}

// Close releases the vault and wipes the in-memory master key.
func (v *Vault) Close() error {
	return v.store.Close()
}

// ListUsers returns the IDs of all enrolled users.
func (v *Vault) ListUsers() ([]string, error) {
	return v.store.ListUsers()
}

// UserInfo returns a user's metadata. The embedding is never decrypted.
func (v *Vault) UserInfo(userID string) (*store.Meta, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return v.store.LoadMeta(userID)
}

// VerifyAuditLog walks the full audit hash chain and returns the number of
// verified entries. A broken chain surfaces as an AuditIntegrityError.
func (v *Vault) VerifyAuditLog() (int, error) {
	return v.audit.VerifyChain()
}

// StartOpsCounter logs authentication and file-crypto operations per second
// until the vault is closed. Useful when the vault backs a kiosk.
func (v *Vault) StartOpsCounter() {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			authOps := atomic.SwapUint64(&v.authCounter, 0)
			cryptOps := atomic.SwapUint64(&v.cryptCounter, 0)
			log.WithFields(logrus.Fields{
				"auth_ops":  authOps,
				"crypt_ops": cryptOps,
			}).Info("operations per second")
		}
	}()
}

func (v *Vault) userLock(userID string) *sync.Mutex {
	mu, _ := v.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (v *Vault) auditAppend(event audit.EventType, actor, result string, detail map[string]string) {
	if err := v.audit.Append(event, actor, result, detail); err != nil {
		log.WithFields(logrus.Fields{"event": event, "error": err}).Error("failed to record audit entry")
	}
}

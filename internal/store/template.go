package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-crypt/hash"

	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/kdf"
)

// ConsentState tracks whether the user's biometric consent is live.
type ConsentState string

const (
	ConsentGranted ConsentState = "granted"
	ConsentRevoked ConsentState = "revoked"
)

// Template is the canonical enrolled identity. The embedding only ever
// exists in plaintext inside this struct, transiently, on the way into or
// out of a sealed record.
type Template struct {
	UserID       string           `json:"user_id"`
	Embedding    embedding.Vector `json:"embedding"`
	QualityScore float64          `json:"quality_score"`
	SampleCount  int              `json:"sample_count"`
	Salt         []byte           `json:"salt"`
	KDFParams    kdf.Params       `json:"kdf_params"`
	Consent      ConsentState     `json:"consent_state"`
	ConsentAt    time.Time        `json:"consent_changed_at"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Zero wipes the template's embedding in place.
func (t *Template) Zero() {
	embedding.Zero(t.Embedding)
}

// Meta is the per-user metadata record kept separate from the template so
// listing and consent checks never decrypt an embedding.
type Meta struct {
	UserID       string       `json:"user_id"`
	QualityScore float64      `json:"quality_score"`
	SampleCount  int          `json:"sample_count"`
	Consent      ConsentState `json:"consent_state"`
	ConsentAt    time.Time    `json:"consent_changed_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	// TemplateHash fingerprints the quantized embedding for tamper checks
	// without revealing it.
	TemplateHash string `json:"template_hash"`
}

// HasUser reports whether any template record exists for the user.
func (s *Store) HasUser(userID string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(userID))
		if err == nil {
			found = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, &StorageError{Op: "lookup", Err: err}
	}
	return found, nil
}

// SaveTemplate seals and persists a new template. A fresh wrapping key is
// generated on every save so re-enrollment never reuses old key material; the
// key lands in its shreddable file before the records that depend on it.
func (s *Store) SaveTemplate(t *Template) error {
	wrapKey := make([]byte, kdf.KeySize)
	if _, err := rand.Read(wrapKey); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	defer embedding.ZeroBytes(wrapKey)

	sealedWrap, err := sealJSON(s.masterKey, wrapKey)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	sealedTemplate, err := sealJSON(wrapKey, t)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}

	quantized := embedding.Quantize(t.Embedding)
	fingerprint := hash.HashBytes(quantized)
	embedding.ZeroBytes(quantized)

	meta := Meta{
		UserID:       t.UserID,
		QualityScore: t.QualityScore,
		SampleCount:  t.SampleCount,
		Consent:      t.Consent,
		ConsentAt:    t.ConsentAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		TemplateHash: fmt.Sprintf("%x", fingerprint),
	}
	sealedMeta, err := sealJSON(wrapKey, meta)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}

	if err := s.writeWrapKey(t.UserID, sealedWrap); err != nil {
		return &StorageError{Op: "save", Err: err}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(templateKey(t.UserID), sealedTemplate); err != nil {
			return err
		}
		return txn.Set(metaKey(t.UserID), sealedMeta)
	})
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}

	s.log.WithField("user_id", t.UserID).Debug("template persisted")
	return nil
}

// LoadTemplate decrypts and returns the user's template. The caller owns the
// embedding and must Zero it on every exit path.
func (s *Store) LoadTemplate(userID string) (*Template, error) {
	wrapKey, err := s.userWrapKey(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, &StorageError{Op: "load", Err: err}
	}
	defer embedding.ZeroBytes(wrapKey)

	var t Template
	err = s.db.View(func(txn *badger.Txn) error {
		sealed, err := readValue(txn, templateKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return openJSON(wrapKey, sealed, &t)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, &StorageError{Op: "load", Err: err}
	}
	return &t, nil
}

// LoadMeta returns the user's metadata without touching the embedding.
func (s *Store) LoadMeta(userID string) (*Meta, error) {
	wrapKey, err := s.userWrapKey(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, &StorageError{Op: "load", Err: err}
	}
	defer embedding.ZeroBytes(wrapKey)

	var m Meta
	err = s.db.View(func(txn *badger.Txn) error {
		sealed, err := readValue(txn, metaKey(userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return openJSON(wrapKey, sealed, &m)
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, &StorageError{Op: "load", Err: err}
	}
	return &m, nil
}

// UpdateConsent rewrites the template and metadata with the new consent
// state. The embedding is re-sealed, not re-captured.
func (s *Store) UpdateConsent(userID string, consent ConsentState) error {
	t, err := s.LoadTemplate(userID)
	if err != nil {
		return err
	}
	defer t.Zero()

	now := time.Now().UTC()
	t.Consent = consent
	t.ConsentAt = now
	t.UpdatedAt = now
	return s.SaveTemplate(t)
}

// ListUsers returns the IDs of all users with a metadata record.
func (s *Store) ListUsers() ([]string, error) {
	var users []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			users = append(users, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return users, nil
}

// DeleteUser removes a user with crypto-erase-first semantics: the wrapping
// key file is shredded before the records are deleted. The template and
// metadata records are sealed under that key, so whatever stale versions the
// database keeps on disk are undecryptable the moment the key file is gone.
func (s *Store) DeleteUser(userID string) error {
	exists, err := s.HasUser(userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}

	if err := shredFile(s.wrapKeyPath(userID)); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "delete", Err: err}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(templateKey(userID)); err != nil {
			return err
		}
		return txn.Delete(metaKey(userID))
	})
	if err != nil {
		return &StorageError{Op: "delete", Err: err}
	}

	s.log.WithField("user_id", userID).Info("user template crypto-erased")
	return nil
}

func (s *Store) userWrapKey(userID string) ([]byte, error) {
	sealed, err := s.readWrapKey(userID)
	if err != nil {
		return nil, err
	}
	var wrapKey []byte
	if err := openJSON(s.masterKey, sealed, &wrapKey); err != nil {
		return nil, fmt.Errorf("failed to unwrap user key: %w", err)
	}
	return wrapKey, nil
}

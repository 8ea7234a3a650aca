package facevault

import (
	"errors"
	"fmt"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/filecrypt"
	"github.com/lumivault/facevault/internal/kdf"
	"github.com/lumivault/facevault/internal/store"
)

// Re-exported failure types so callers can branch on kind without importing
// internal packages.
type (
	// FileIntegrityError means a container header or chunk failed its
	// authentication tag; the file is treated as corrupted or tampered.
	FileIntegrityError = filecrypt.IntegrityError

	// AuditIntegrityError means the audit hash chain is broken.
	AuditIntegrityError = audit.IntegrityError

	// KeyDerivationError means malformed KDF input or parameters.
	KeyDerivationError = kdf.DerivationError

	// StorageError wraps disk and permission failures.
	StorageError = store.StorageError
)

var (
	// ErrUserExists is returned by Enroll when the user already has a
	// non-revoked template; the caller must delete it explicitly first.
	ErrUserExists = store.ErrUserExists

	// ErrUserNotFound is returned by operations that name a user directly
	// (deletion, consent). Authentication never returns it.
	ErrUserNotFound = store.ErrUserNotFound

	// ErrInvalidUserID rejects empty user identifiers.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrAuthenticationFailed is the uniform failure for file operations
	// whose authentication step did not reach SUCCESS. It carries no hint
	// of whether the user exists or how close the face came.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrConsentRevoked blocks file operations for users who revoked
	// biometric consent.
	ErrConsentRevoked = errors.New("biometric consent revoked")
)

// EnrollmentTimeoutError terminates an enrollment session that ran out of
// time or capture attempts. No partial template is persisted.
type EnrollmentTimeoutError struct {
	Attempts int
	Accepted int
}

func (e *EnrollmentTimeoutError) Error() string {
	return fmt.Sprintf("enrollment timed out after %d attempts (%d samples accepted)", e.Attempts, e.Accepted)
}

// AuthenticationTimeoutError terminates an authentication session that hit
// its time budget before reaching a decision.
type AuthenticationTimeoutError struct {
	Attempts int
}

func (e *AuthenticationTimeoutError) Error() string {
	return fmt.Sprintf("authentication timed out after %d attempts", e.Attempts)
}

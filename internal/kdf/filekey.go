package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Domain-separation labels for HKDF expansion of the per-user master secret.
const (
	fileKeyLabel   = "facevault/file/v1"
	headerKeyLabel = "facevault/header/v1"
)

// FileKey expands the user's master secret into a per-file encryption key.
// The file salt is random and stored in the container, so two files for the
// same user never share a key even though they share the biometric secret.
func FileKey(masterSecret, fileSalt []byte, context string) ([]byte, error) {
	if len(masterSecret) != KeySize {
		return nil, &DerivationError{Reason: "master secret has wrong length"}
	}
	if len(fileSalt) == 0 {
		return nil, &DerivationError{Reason: "empty file salt"}
	}
	return expand(masterSecret, fileSalt, append([]byte(fileKeyLabel), []byte(context)...))
}

// HeaderKey expands a file key into the key used to authenticate the
// container header, independent of the chunk cipher.
func HeaderKey(fileKey []byte) ([]byte, error) {
	if len(fileKey) != KeySize {
		return nil, &DerivationError{Reason: "file key has wrong length"}
	}
	return expand(fileKey, nil, []byte(headerKeyLabel))
}

// Subkey expands an arbitrary 32-byte secret under a caller-chosen label.
// The storage layer uses it to derive the audit signing and sealing keys
// from the system master key.
func Subkey(secret []byte, label string) ([]byte, error) {
	if len(secret) != KeySize {
		return nil, &DerivationError{Reason: "secret has wrong length"}
	}
	return expand(secret, nil, []byte(label))
}

func expand(secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, &DerivationError{Reason: "HKDF expansion failed", Err: err}
	}
	return key, nil
}

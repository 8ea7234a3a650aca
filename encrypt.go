package facevault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/filecrypt"
	"github.com/lumivault/facevault/internal/kdf"
)

// ContainerExtension is appended to the input path to name the container.
const ContainerExtension = ".fvlt"

// EncryptFile authenticates the user, derives a file key from the stored
// template and streams path into an encrypted container next to it. The
// container is written to a temp file and renamed only on full success, so a
// failure or cancellation never leaves a partial container behind.
func (v *Vault) EncryptFile(ctx context.Context, path, userID string, source embedding.Source) (string, error) {
	atomic.AddUint64(&v.cryptCounter, 1)

	if err := v.authorize(ctx, userID, source, audit.EventEncrypt, filepath.Base(path)); err != nil {
		return "", err
	}

	fileSalt := make([]byte, saltSize)
	if _, err := rand.Read(fileSalt); err != nil {
		return "", fmt.Errorf("failed to generate file salt: %w", err)
	}

	// The stored template, not the live capture, feeds key derivation: the
	// same enrollment always reproduces the same master secret.
	fileKey, params, err := v.fileKey(userID, fileSalt, filepath.Base(path))
	if err != nil {
		return "", err
	}
	defer embedding.ZeroBytes(fileKey)

	in, err := os.Open(path)
	if err != nil {
		return "", &StorageError{Op: "encrypt", Err: err}
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", &StorageError{Op: "encrypt", Err: err}
	}

	outPath := path + ContainerExtension
	tmpPath := outPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", &StorageError{Op: "encrypt", Err: err}
	}

	header, err := filecrypt.Encrypt(out, in, info.Size(), fileKey, filecrypt.Options{
		OriginalName: filepath.Base(path),
		FileSalt:     fileSalt,
		KDFParams:    params,
		ChunkSize:    v.config.ChunkSize,
		Cipher:       v.config.Cipher,
	})
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		v.auditAppend(audit.EventEncrypt, userID, "failure", map[string]string{"file": filepath.Base(path)})
		return "", fmt.Errorf("failed to encrypt %s: %w", path, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", &StorageError{Op: "encrypt", Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &StorageError{Op: "encrypt", Err: err}
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return "", &StorageError{Op: "encrypt", Err: err}
	}

	v.auditAppend(audit.EventEncrypt, userID, "success", map[string]string{
		"file":   filepath.Base(path),
		"chunks": strconv.FormatUint(uint64(header.ChunkCount), 10),
		"cipher": header.Cipher.String(),
	})
	log.WithFields(logrus.Fields{"user_id": userID, "file": filepath.Base(path), "chunks": header.ChunkCount}).Info("file encrypted")
	return outPath, nil
}

// authorize runs an authentication session and maps every non-success
// outcome to an access failure. The audit trail records the denial against
// the attempted operation.
func (v *Vault) authorize(ctx context.Context, userID string, source embedding.Source, event audit.EventType, fileName string) error {
	atomic.AddUint64(&v.authCounter, 1)

	result, err := v.Authenticate(ctx, userID, source, nil)
	if err != nil {
		return err
	}
	if result.OK() {
		return nil
	}

	v.auditAppend(event, userID, "denied", map[string]string{
		"file":    fileName,
		"outcome": string(result.Outcome),
	})
	if result.Outcome == AuthTimeout {
		return &AuthenticationTimeoutError{Attempts: result.Attempts}
	}
	return ErrAuthenticationFailed
}

// fileKey loads the template transiently, derives the user's master secret
// and expands it into the per-file key. Derivation always runs with the KDF
// parameters frozen at enrollment; the copy in a container header is
// informational and is authenticated by the header tag, never executed. All
// intermediate secrets are wiped.
func (v *Vault) fileKey(userID string, fileSalt []byte, context string) ([]byte, kdf.Params, error) {
	template, err := v.store.LoadTemplate(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Unreachable after a successful authentication; shaped like a
			// generic failure all the same.
			return nil, kdf.Params{}, ErrAuthenticationFailed
		}
		return nil, kdf.Params{}, err
	}

	params := template.KDFParams
	master, err := kdf.Derive(template.Embedding, template.Salt, params)
	template.Zero()
	if err != nil {
		return nil, kdf.Params{}, err
	}
	defer embedding.ZeroBytes(master)

	key, err := kdf.FileKey(master, fileSalt, context)
	if err != nil {
		return nil, kdf.Params{}, err
	}
	return key, params, nil
}

package facevault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/filecrypt"
)

// DecryptFile authenticates the user and restores the container's plaintext
// next to it, returning the output path. The header tag is verified before
// any chunk is decrypted; any chunk tag mismatch aborts the whole operation
// and no partial plaintext ever reaches the final path.
func (v *Vault) DecryptFile(ctx context.Context, containerPath, userID string, source embedding.Source) (string, error) {
	atomic.AddUint64(&v.cryptCounter, 1)

	in, err := os.Open(containerPath)
	if err != nil {
		return "", &StorageError{Op: "decrypt", Err: err}
	}
	defer in.Close()

	header, err := filecrypt.ReadHeader(in)
	if err != nil {
		v.auditAppend(audit.EventDecrypt, userID, "failure", map[string]string{
			"file":   filepath.Base(containerPath),
			"reason": "unreadable header",
		})
		return "", err
	}

	if err := v.authorize(ctx, userID, source, audit.EventDecrypt, filepath.Base(containerPath)); err != nil {
		return "", err
	}

	// Derivation uses the parameters frozen at enrollment, never the ones
	// the header claims. A header with tampered parameters fails the tag
	// check below without ever driving a key derivation.
	fileKey, _, err := v.fileKey(userID, header.FileSalt, header.OriginalName)
	if err != nil {
		return "", err
	}
	defer embedding.ZeroBytes(fileKey)

	outPath := decryptOutputPath(containerPath, header.OriginalName)
	tmpPath := outPath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", &StorageError{Op: "decrypt", Err: err}
	}

	if err := filecrypt.Decrypt(in, header, fileKey, out); err != nil {
		out.Close()
		os.Remove(tmpPath)
		v.auditAppend(audit.EventDecrypt, userID, "failure", map[string]string{
			"file":   filepath.Base(containerPath),
			"reason": "integrity failure",
		})
		return "", err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", &StorageError{Op: "decrypt", Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &StorageError{Op: "decrypt", Err: err}
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return "", &StorageError{Op: "decrypt", Err: err}
	}

	v.auditAppend(audit.EventDecrypt, userID, "success", map[string]string{"file": filepath.Base(containerPath)})
	log.WithFields(logrus.Fields{"user_id": userID, "file": filepath.Base(containerPath)}).Info("file decrypted")
	return outPath, nil
}

// VerifyFile authenticates the user and validates the container's header and
// every chunk tag without writing plaintext to the filesystem.
func (v *Vault) VerifyFile(ctx context.Context, containerPath, userID string, source embedding.Source) error {
	in, err := os.Open(containerPath)
	if err != nil {
		return &StorageError{Op: "verify", Err: err}
	}
	defer in.Close()

	header, err := filecrypt.ReadHeader(in)
	if err != nil {
		return err
	}

	if err := v.authorize(ctx, userID, source, audit.EventVerify, filepath.Base(containerPath)); err != nil {
		return err
	}

	fileKey, _, err := v.fileKey(userID, header.FileSalt, header.OriginalName)
	if err != nil {
		return err
	}
	defer embedding.ZeroBytes(fileKey)

	if err := filecrypt.Verify(in, header, fileKey); err != nil {
		v.auditAppend(audit.EventVerify, userID, "failure", map[string]string{"file": filepath.Base(containerPath)})
		return err
	}

	v.auditAppend(audit.EventVerify, userID, "success", map[string]string{"file": filepath.Base(containerPath)})
	return nil
}

// decryptOutputPath restores the original filename beside the container,
// stepping aside if a file with that name still exists.
func decryptOutputPath(containerPath, originalName string) string {
	dir := filepath.Dir(containerPath)
	name := filepath.Base(originalName) // never trust a path from the header
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "decrypted.out"
	}
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	return filepath.Join(dir, fmt.Sprintf("decrypted_%s", name))
}

package store

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"github.com/i5heu/ouroboros-crypt/hash"
)

// Per-user wrapping keys live as discrete files beside the database, not
// inside it. Badger is an LSM store and never overwrites a value in place; a
// deleted record can survive in an SST or value log long after the delete. A
// plain file can actually be destroyed: overwrite in place, fsync, unlink.

const (
	wrapKeyDirName  = "keys"
	wrapKeyFileMode = os.FileMode(0o600)
)

func (s *Store) wrapKeyPath(userID string) string {
	name := hash.HashBytes([]byte(userID)).String()
	return filepath.Join(s.dir, wrapKeyDirName, name+".key")
}

// writeWrapKey persists the sealed wrapping key for the user, shredding any
// previous key file first so re-enrollment kills every key derived from the
// prior template.
func (s *Store) writeWrapKey(userID string, sealed []byte) error {
	path := s.wrapKeyPath(userID)
	if _, err := os.Stat(path); err == nil {
		if err := shredFile(path); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, wrapKeyFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) readWrapKey(userID string) ([]byte, error) {
	sealed, err := os.ReadFile(s.wrapKeyPath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sealed, nil
}

// shredFile overwrites the file's full content with random bytes at its
// existing offset, syncs the overwrite to disk and only then unlinks. The
// unlink alone would leave the old blocks readable.
func shredFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	garbage := make([]byte, info.Size())
	if _, err := rand.Read(garbage); err != nil {
		f.Close()
		return err
	}
	if _, err := f.WriteAt(garbage, 0); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

package kdf

import (
	"crypto/sha256"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

func deriveArgon2id(secret, salt []byte, params Params) []byte {
	return argon2.IDKey(secret, salt, params.Iterations, params.MemoryKiB, params.Parallelism, KeySize)
}

func derivePBKDF2(secret, salt []byte, params Params) []byte {
	return pbkdf2.Key(secret, salt, int(params.Iterations), KeySize, sha256.New)
}

func deriveScrypt(secret, salt []byte, params Params) ([]byte, error) {
	key, err := scrypt.Key(secret, salt, params.ScryptN, params.ScryptR, params.ScryptP, KeySize)
	if err != nil {
		return nil, &DerivationError{Reason: "scrypt derivation failed", Err: err}
	}
	return key, nil
}

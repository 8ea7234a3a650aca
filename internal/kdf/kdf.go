// Package kdf turns a verified face embedding plus salts into symmetric
// encryption keys. The strategy is chosen at enrollment, persisted in the
// user's KDF parameters and never changed silently afterwards, so decryption
// always runs the same derivation that encryption did.
package kdf

import (
	"fmt"

	"github.com/lumivault/facevault/internal/embedding"
)

// KeySize is the length of every derived key in bytes (AES-256 / ChaCha20).
const KeySize = 32

// Method identifiers persisted in kdf_params and in container headers.
const (
	MethodArgon2id     = "argon2id"
	MethodPBKDF2SHA256 = "pbkdf2-sha256"
	MethodScrypt       = "scrypt"
)

// Minimum work factors. These are security-relevant constants, not tuning
// knobs: Validate rejects anything weaker and the test suite asserts them.
const (
	MinArgon2MemoryKiB  = 64 * 1024
	MinArgon2Iterations = 3
	MinPBKDF2Iterations = 100_000
	MinScryptN          = 1 << 15
)

// Upper bounds. Parameters can arrive from a container header, so absurd
// values must fail validation instead of turning into terabyte allocations.
const (
	MaxArgon2MemoryKiB  = 2 * 1024 * 1024
	MaxArgon2Iterations = 128
	MaxPBKDF2Iterations = 50_000_000
	MaxScryptN          = 1 << 24
)

// Params freezes a derivation method and its tunables.
type Params struct {
	Method      string `json:"method"`
	Iterations  uint32 `json:"iterations,omitempty"`
	MemoryKiB   uint32 `json:"memory_kib,omitempty"`
	Parallelism uint8  `json:"parallelism,omitempty"`
	ScryptN     int    `json:"scrypt_n,omitempty"`
	ScryptR     int    `json:"scrypt_r,omitempty"`
	ScryptP     int    `json:"scrypt_p,omitempty"`
}

// DerivationError is fatal: the caller must fix its input rather than retry.
type DerivationError struct {
	Reason string
	Err    error
}

func (e *DerivationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key derivation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("key derivation failed: %s", e.Reason)
}

func (e *DerivationError) Unwrap() error { return e.Err }

// DefaultParams returns the enrollment default: Argon2id at the documented
// minimum work factor with four lanes.
func DefaultParams() Params {
	return Params{
		Method:      MethodArgon2id,
		Iterations:  MinArgon2Iterations,
		MemoryKiB:   MinArgon2MemoryKiB,
		Parallelism: 4,
	}
}

// Validate checks the method identifier and enforces the minimum and maximum
// work factors.
func (p Params) Validate() error {
	switch p.Method {
	case MethodArgon2id:
		if p.MemoryKiB < MinArgon2MemoryKiB {
			return &DerivationError{Reason: fmt.Sprintf("argon2id memory %d KiB below minimum %d KiB", p.MemoryKiB, MinArgon2MemoryKiB)}
		}
		if p.MemoryKiB > MaxArgon2MemoryKiB {
			return &DerivationError{Reason: fmt.Sprintf("argon2id memory %d KiB above maximum %d KiB", p.MemoryKiB, MaxArgon2MemoryKiB)}
		}
		if p.Iterations < MinArgon2Iterations {
			return &DerivationError{Reason: fmt.Sprintf("argon2id iterations %d below minimum %d", p.Iterations, MinArgon2Iterations)}
		}
		if p.Iterations > MaxArgon2Iterations {
			return &DerivationError{Reason: fmt.Sprintf("argon2id iterations %d above maximum %d", p.Iterations, MaxArgon2Iterations)}
		}
		if p.Parallelism == 0 {
			return &DerivationError{Reason: "argon2id parallelism must be at least 1"}
		}
	case MethodPBKDF2SHA256:
		if p.Iterations < MinPBKDF2Iterations {
			return &DerivationError{Reason: fmt.Sprintf("pbkdf2 iterations %d below minimum %d", p.Iterations, MinPBKDF2Iterations)}
		}
		if p.Iterations > MaxPBKDF2Iterations {
			return &DerivationError{Reason: fmt.Sprintf("pbkdf2 iterations %d above maximum %d", p.Iterations, MaxPBKDF2Iterations)}
		}
	case MethodScrypt:
		if p.ScryptN < MinScryptN {
			return &DerivationError{Reason: fmt.Sprintf("scrypt N %d below minimum %d", p.ScryptN, MinScryptN)}
		}
		if p.ScryptN > MaxScryptN {
			return &DerivationError{Reason: fmt.Sprintf("scrypt N %d above maximum %d", p.ScryptN, MaxScryptN)}
		}
		if p.ScryptR <= 0 || p.ScryptP <= 0 {
			return &DerivationError{Reason: "scrypt r and p must be positive"}
		}
	case "":
		return &DerivationError{Reason: "missing KDF method"}
	default:
		return &DerivationError{Reason: fmt.Sprintf("unknown KDF method %q", p.Method)}
	}
	return nil
}

// Derive produces the user's 32-byte master secret from the stored template
// embedding and the user's enrollment salt. The embedding is quantized to
// fixed point first so repeated derivations from the same template are
// byte-identical. The quantized secret is wiped before returning.
func Derive(vec embedding.Vector, salt []byte, params Params) ([]byte, error) {
	if len(vec) == 0 {
		return nil, &DerivationError{Reason: "empty embedding"}
	}
	if len(salt) == 0 {
		return nil, &DerivationError{Reason: "empty salt"}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	secret := embedding.Quantize(vec)
	defer embedding.ZeroBytes(secret)

	switch params.Method {
	case MethodArgon2id:
		return deriveArgon2id(secret, salt, params), nil
	case MethodPBKDF2SHA256:
		return derivePBKDF2(secret, salt, params), nil
	case MethodScrypt:
		return deriveScrypt(secret, salt, params)
	}
	return nil, &DerivationError{Reason: fmt.Sprintf("unknown KDF method %q", params.Method)}
}

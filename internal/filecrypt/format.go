// Package filecrypt implements the encrypted file container: a fixed header
// protected by its own integrity tag, followed by independently encrypted
// chunks whose nonces come from a random base plus a monotonic counter.
//
// File layout (little-endian lengths):
//
//	[magic "FVLT":4][version:1][header_len:4]
//	[header JSON][header_integrity_tag:32]
//	repeated chunk_count times:
//	  [chunk_index:4][nonce:12][ciphertext_len:4][ciphertext+auth_tag]
//
// The layout is bit-exact across releases; version gates format changes.
package filecrypt

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lumivault/facevault/internal/kdf"
)

const (
	// FormatVersion gates backward-compatible decryption of old containers.
	FormatVersion = 1

	// DefaultChunkSize is 1 MiB; it bounds memory for arbitrarily large files.
	DefaultChunkSize = 1 << 20

	// MinChunkSize exists so tests can exercise many-chunk containers cheaply.
	MinChunkSize = 64

	// MaxChunkSize caps the per-chunk buffer.
	MaxChunkSize = 16 << 20

	nonceBaseSize = 8
	nonceSize     = 12
	headerTagSize = sha256.Size

	maxHeaderLen = 1 << 20
)

var magic = [4]byte{'F', 'V', 'L', 'T'}

// Header describes one encrypted container. It is serialized as JSON between
// the fixed prefix and the header integrity tag.
type Header struct {
	OriginalName string      `json:"original_filename"`
	OriginalSize int64       `json:"original_size"`
	KDFMethod    string      `json:"kdf_method_id"`
	KDFParams    kdf.Params  `json:"kdf_params"`
	FileSalt     []byte      `json:"file_salt"`
	Cipher       CipherSuite `json:"cipher_id"`
	ChunkSize    uint32      `json:"chunk_size"`
	ChunkCount   uint32      `json:"chunk_count"`
	NonceBase    []byte      `json:"nonce_base"`

	version uint8
	rawJSON []byte
	tag     []byte
}

// Version reports the container format version read from the file prefix.
func (h *Header) Version() uint8 { return h.version }

// Verify recomputes the header integrity tag under the given file key.
// A corrupted header fails here, before any chunk is touched.
func (h *Header) Verify(fileKey []byte) error {
	expected, err := headerTag(fileKey, h.version, h.rawJSON)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, h.tag) {
		return &IntegrityError{Section: "header", Message: "header integrity tag mismatch"}
	}
	return nil
}

func headerTag(fileKey []byte, version uint8, rawJSON []byte) ([]byte, error) {
	headerKey, err := kdf.HeaderKey(fileKey)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, headerKey)
	mac.Write(magic[:])
	mac.Write([]byte{version})
	mac.Write(rawJSON)
	return mac.Sum(nil), nil
}

func writeHeader(w io.Writer, h *Header, fileKey []byte) error {
	rawJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal container header: %w", err)
	}
	tag, err := headerTag(fileKey, FormatVersion, rawJSON)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(FormatVersion)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(rawJSON))); err != nil {
		return fmt.Errorf("failed to encode header length: %w", err)
	}
	buf.Write(rawJSON)
	buf.Write(tag)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write container header: %w", err)
	}

	h.version = FormatVersion
	h.rawJSON = rawJSON
	h.tag = tag
	return nil
}

// ReadHeader parses the container prefix and header. The header is not
// trusted until Verify succeeds under the derived file key; ReadHeader only
// gives the caller the fields it needs to derive that key.
func ReadHeader(r io.Reader) (*Header, error) {
	var prefix [9]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, &IntegrityError{Section: "header", Message: "container truncated before header", Err: err}
	}
	if !bytes.Equal(prefix[:4], magic[:]) {
		return nil, &IntegrityError{Section: "header", Message: "bad magic: not a facevault container"}
	}
	version := prefix[4]
	if version == 0 || version > FormatVersion {
		return nil, &IntegrityError{Section: "header", Message: fmt.Sprintf("unsupported container version %d", version)}
	}

	headerLen := binary.LittleEndian.Uint32(prefix[5:9])
	if headerLen == 0 || headerLen > maxHeaderLen {
		return nil, &IntegrityError{Section: "header", Message: fmt.Sprintf("implausible header length %d", headerLen)}
	}

	rawJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, rawJSON); err != nil {
		return nil, &IntegrityError{Section: "header", Message: "container truncated inside header", Err: err}
	}
	tag := make([]byte, headerTagSize)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, &IntegrityError{Section: "header", Message: "container truncated before header tag", Err: err}
	}

	var h Header
	if err := json.Unmarshal(rawJSON, &h); err != nil {
		return nil, &IntegrityError{Section: "header", Message: "malformed header", Err: err}
	}
	if h.ChunkSize < MinChunkSize || h.ChunkSize > MaxChunkSize {
		return nil, &IntegrityError{Section: "header", Message: fmt.Sprintf("implausible chunk size %d", h.ChunkSize)}
	}
	if len(h.NonceBase) != nonceBaseSize {
		return nil, &IntegrityError{Section: "header", Message: "malformed nonce base"}
	}

	h.version = version
	h.rawJSON = rawJSON
	h.tag = tag
	return &h, nil
}

// chunkNonce builds the deterministic per-chunk nonce: the random base from
// the header followed by the big-endian chunk index. Uniqueness per key is
// structural, not probabilistic.
func chunkNonce(base []byte, index uint32) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)
	binary.BigEndian.PutUint32(nonce[nonceBaseSize:], index)
	return nonce
}

// chunkAD binds each chunk to its position and to the container shape, so
// reordering or truncation fails tag verification rather than a length check.
func chunkAD(version uint8, index, count uint32) []byte {
	ad := make([]byte, 13)
	copy(ad, magic[:])
	ad[4] = version
	binary.BigEndian.PutUint32(ad[5:], index)
	binary.BigEndian.PutUint32(ad[9:], count)
	return ad
}

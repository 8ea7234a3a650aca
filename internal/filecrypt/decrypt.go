package filecrypt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lumivault/facevault/internal/embedding"
)

// Decrypt verifies the header tag first, then decrypts chunks strictly in
// index order into w. Any tag mismatch aborts with an IntegrityError and the
// caller must discard whatever was already written; the vault layer writes
// to a temp path and renames only on full success.
func Decrypt(r io.Reader, h *Header, fileKey []byte, w io.Writer) error {
	return decryptBody(r, h, fileKey, w)
}

// Verify validates the header and every chunk tag without writing plaintext
// anywhere. Decrypted chunk buffers are wiped before returning.
func Verify(r io.Reader, h *Header, fileKey []byte) error {
	return decryptBody(r, h, fileKey, io.Discard)
}

func decryptBody(r io.Reader, h *Header, fileKey []byte, w io.Writer) error {
	if err := h.Verify(fileKey); err != nil {
		return err
	}

	aead, err := newAEAD(h.Cipher, fileKey)
	if err != nil {
		return err
	}
	maxCiphertext := int(h.ChunkSize) + aead.Overhead()

	var produced int64
	for index := uint32(0); index < h.ChunkCount; index++ {
		var scratch [4]byte
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "container truncated before chunk", Err: err}
		}
		storedIndex := binary.LittleEndian.Uint32(scratch[:])
		if storedIndex != index {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: fmt.Sprintf("chunk out of order: found index %d", storedIndex)}
		}

		nonce := make([]byte, nonceSize)
		if _, err := io.ReadFull(r, nonce); err != nil {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "container truncated inside chunk nonce", Err: err}
		}
		if !bytes.Equal(nonce, chunkNonce(h.NonceBase, index)) {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "chunk nonce does not match header nonce base"}
		}

		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "container truncated before chunk length", Err: err}
		}
		ciphertextLen := binary.LittleEndian.Uint32(scratch[:])
		if ciphertextLen == 0 || int(ciphertextLen) > maxCiphertext {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: fmt.Sprintf("implausible chunk length %d", ciphertextLen)}
		}

		ciphertext := make([]byte, ciphertextLen)
		if _, err := io.ReadFull(r, ciphertext); err != nil {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "container truncated inside chunk", Err: err}
		}

		plaintext, err := aead.Open(nil, nonce, ciphertext, chunkAD(h.version, index, h.ChunkCount))
		if err != nil {
			return &IntegrityError{Section: "chunk", ChunkIndex: index, Message: "authentication tag mismatch", Err: err}
		}

		_, werr := w.Write(plaintext)
		produced += int64(len(plaintext))
		embedding.ZeroBytes(plaintext)
		if werr != nil {
			return fmt.Errorf("failed to write plaintext for chunk %d: %w", index, werr)
		}
	}

	if produced != h.OriginalSize {
		return &IntegrityError{Section: "chunk", ChunkIndex: h.ChunkCount, Message: fmt.Sprintf("plaintext size mismatch: got %d, header says %d", produced, h.OriginalSize)}
	}

	// Anything after the final chunk means the container was appended to.
	var trailer [1]byte
	if n, _ := r.Read(trailer[:]); n != 0 {
		return &IntegrityError{Section: "chunk", ChunkIndex: h.ChunkCount, Message: "trailing data after final chunk"}
	}
	return nil
}

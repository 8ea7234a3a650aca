package filecrypt

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/kdf"
)

// Options configures container creation.
type Options struct {
	OriginalName string
	FileSalt     []byte
	KDFParams    kdf.Params
	ChunkSize    uint32
	Cipher       CipherSuite
}

// Encrypt streams plaintext from r into a container written to w. size must
// be the exact plaintext length; it fixes chunk_count in the header before
// any chunk is produced. Memory use is bounded by one chunk regardless of
// file size.
func Encrypt(w io.Writer, r io.Reader, size int64, fileKey []byte, opts Options) (*Header, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative plaintext size %d", size)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < MinChunkSize || opts.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d out of range [%d,%d]", opts.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if opts.Cipher == 0 {
		opts.Cipher = CipherAES256GCM
	}
	if len(opts.FileSalt) == 0 {
		return nil, fmt.Errorf("missing file salt")
	}

	chunkCount := uint64(0)
	if size > 0 {
		chunkCount = (uint64(size) + uint64(opts.ChunkSize) - 1) / uint64(opts.ChunkSize)
	}
	if chunkCount > math.MaxUint32 {
		return nil, fmt.Errorf("file requires %d chunks, exceeding the format limit", chunkCount)
	}

	nonceBase := make([]byte, nonceBaseSize)
	if _, err := rand.Read(nonceBase); err != nil {
		return nil, fmt.Errorf("failed to generate nonce base: %w", err)
	}

	header := &Header{
		OriginalName: opts.OriginalName,
		OriginalSize: size,
		KDFMethod:    opts.KDFParams.Method,
		KDFParams:    opts.KDFParams,
		FileSalt:     opts.FileSalt,
		Cipher:       opts.Cipher,
		ChunkSize:    opts.ChunkSize,
		ChunkCount:   uint32(chunkCount),
		NonceBase:    nonceBase,
	}
	if err := writeHeader(w, header, fileKey); err != nil {
		return nil, err
	}

	aead, err := newAEAD(opts.Cipher, fileKey)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, opts.ChunkSize)
	defer embedding.ZeroBytes(buf)

	var written int64
	for index := uint32(0); uint64(index) < chunkCount; index++ {
		remaining := size - written
		want := int64(opts.ChunkSize)
		if remaining < want {
			want = remaining
		}
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			return nil, fmt.Errorf("plaintext ended early at chunk %d: %w", index, err)
		}

		nonce := chunkNonce(nonceBase, index)
		ciphertext := aead.Seal(nil, nonce, buf[:want], chunkAD(FormatVersion, index, header.ChunkCount))

		var scratch [4]byte
		binary.LittleEndian.PutUint32(scratch[:], index)
		if _, err := w.Write(scratch[:]); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d index: %w", index, err)
		}
		if _, err := w.Write(nonce); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d nonce: %w", index, err)
		}
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(ciphertext)))
		if _, err := w.Write(scratch[:]); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d length: %w", index, err)
		}
		if _, err := w.Write(ciphertext); err != nil {
			return nil, fmt.Errorf("failed to write chunk %d ciphertext: %w", index, err)
		}

		written += want
	}

	if written != size {
		return nil, fmt.Errorf("plaintext size mismatch: wrote %d of %d bytes", written, size)
	}
	return header, nil
}

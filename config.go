package facevault

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/filecrypt"
	"github.com/lumivault/facevault/internal/kdf"
)

// Defaults applied by checkConfig for zero-valued fields.
const (
	DefaultMinSamples          = 3
	DefaultQualityThreshold    = 0.8
	DefaultSimilarityThreshold = 0.6
	DefaultMaxAttempts         = 5
	DefaultOperationTimeout    = 30 * time.Second
)

// Config configures a Vault. Zero values fall back to the documented
// defaults; Path is the only required field.
type Config struct {
	// Path is the storage root: the template database, master key and audit
	// logs all live beneath it with owner-only permissions.
	Path string

	// Logger receives structured operational logging. Embeddings, keys and
	// raw similarity scores are never logged.
	Logger *logrus.Logger

	// MinimumFreeSpace in bytes on the storage volume, checked at Init.
	MinimumFreeSpace uint64

	// MinSamples is the number of accepted samples enrollment requires.
	MinSamples int

	// QualityThreshold gates enrollment samples, in [0,1].
	QualityThreshold float64

	// SimilarityThreshold is the minimum cosine similarity for
	// authentication to succeed, in [-1,1].
	SimilarityThreshold float64

	// MaxAttempts bounds capture attempts per authentication session.
	MaxAttempts int

	// OperationTimeout bounds a whole enrollment or authentication session.
	OperationTimeout time.Duration

	// ChunkSize for file encryption, in bytes.
	ChunkSize uint32

	// Cipher selects the chunk AEAD for new containers.
	Cipher filecrypt.CipherSuite

	// KDFParams are frozen into every new enrollment.
	KDFParams kdf.Params
}

func (c *Config) checkConfig() error {
	if c == nil {
		return fmt.Errorf("config must not be nil")
	}
	if c.Path == "" {
		return fmt.Errorf("config must include a storage path")
	}

	if c.MinSamples == 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("minimum samples must be at least 1, got %d", c.MinSamples)
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = DefaultQualityThreshold
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold %f out of range [0,1]", c.QualityThreshold)
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %f out of range [-1,1]", c.SimilarityThreshold)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = filecrypt.DefaultChunkSize
	}
	if c.ChunkSize < filecrypt.MinChunkSize || c.ChunkSize > filecrypt.MaxChunkSize {
		return fmt.Errorf("chunk size %d out of range [%d,%d]", c.ChunkSize, filecrypt.MinChunkSize, filecrypt.MaxChunkSize)
	}
	if c.Cipher == 0 {
		c.Cipher = filecrypt.CipherAES256GCM
	}
	if c.KDFParams.Method == "" {
		c.KDFParams = kdf.DefaultParams()
	}
	if err := c.KDFParams.Validate(); err != nil {
		return fmt.Errorf("invalid KDF defaults: %w", err)
	}
	return nil
}

// checkDiskSpace logs the storage volume usage and fails when free space is
// below the configured minimum.
func checkDiskSpace(path string, minimumFree uint64) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}

	log.WithFields(logrus.Fields{
		"path":         path,
		"free_bytes":   usage.Free,
		"total_bytes":  usage.Total,
		"used_percent": fmt.Sprintf("%.1f", usage.UsedPercent),
	}).Info("storage volume usage")

	if usage.Free < minimumFree {
		return fmt.Errorf("insufficient free space on %s: %d bytes available, %d required", path, usage.Free, minimumFree)
	}
	return nil
}

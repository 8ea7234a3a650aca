package facevault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumivault/facevault/internal/filecrypt"
	"github.com/lumivault/facevault/internal/kdf"
)

func TestCheckConfigAppliesDefaults(t *testing.T) {
	c := &Config{Path: "/tmp/vault"}
	require.NoError(t, c.checkConfig())

	assert.Equal(t, DefaultMinSamples, c.MinSamples)
	assert.Equal(t, DefaultQualityThreshold, c.QualityThreshold)
	assert.Equal(t, DefaultSimilarityThreshold, c.SimilarityThreshold)
	assert.Equal(t, DefaultMaxAttempts, c.MaxAttempts)
	assert.Equal(t, DefaultOperationTimeout, c.OperationTimeout)
	assert.EqualValues(t, filecrypt.DefaultChunkSize, c.ChunkSize)
	assert.Equal(t, filecrypt.CipherAES256GCM, c.Cipher)
	assert.Equal(t, kdf.MethodArgon2id, c.KDFParams.Method)
}

func TestCheckConfigKeepsExplicitValues(t *testing.T) {
	c := &Config{
		Path:                "/tmp/vault",
		MinSamples:          5,
		QualityThreshold:    0.9,
		SimilarityThreshold: 0.75,
		MaxAttempts:         2,
		OperationTimeout:    10 * time.Second,
		ChunkSize:           filecrypt.MinChunkSize,
		Cipher:              filecrypt.CipherChaCha20Poly1305,
	}
	require.NoError(t, c.checkConfig())

	assert.Equal(t, 5, c.MinSamples)
	assert.Equal(t, 0.9, c.QualityThreshold)
	assert.Equal(t, 0.75, c.SimilarityThreshold)
	assert.Equal(t, 2, c.MaxAttempts)
	assert.Equal(t, 10*time.Second, c.OperationTimeout)
	assert.Equal(t, filecrypt.CipherChaCha20Poly1305, c.Cipher)
}

func TestCheckConfigRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		config Config
	}{
		{"missing path", Config{}},
		{"negative min samples", Config{Path: "/tmp/v", MinSamples: -1}},
		{"quality above one", Config{Path: "/tmp/v", QualityThreshold: 1.5}},
		{"similarity above one", Config{Path: "/tmp/v", SimilarityThreshold: 1.5}},
		{"negative max attempts", Config{Path: "/tmp/v", MaxAttempts: -2}},
		{"chunk below minimum", Config{Path: "/tmp/v", ChunkSize: filecrypt.MinChunkSize - 1}},
		{"weak kdf", Config{Path: "/tmp/v", KDFParams: kdf.Params{Method: kdf.MethodPBKDF2SHA256, Iterations: 10}}},
		{"unknown kdf", Config{Path: "/tmp/v", KDFParams: kdf.Params{Method: "md5"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.config.checkConfig())
		})
	}
}

func TestInitRejectsNilConfig(t *testing.T) {
	_, err := Init(nil)
	assert.Error(t, err)
}

func TestInitRejectsImpossibleFreeSpace(t *testing.T) {
	_, err := Init(&Config{
		Path:             t.TempDir(),
		MinimumFreeSpace: 1 << 62,
	})
	assert.Error(t, err)
}

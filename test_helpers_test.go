package facevault

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/filecrypt"
	"github.com/lumivault/facevault/internal/kdf"
)

// setupVault creates a vault in a temp directory with fast test settings:
// the cheapest valid KDF and the smallest chunk size, so multi-chunk
// containers and repeated derivations stay quick.
func setupVault(t *testing.T) (*Vault, string, func()) {
	t.Helper()
	dir := t.TempDir()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	v, err := Init(&Config{
		Path:      dir,
		Logger:    logger,
		ChunkSize: filecrypt.MinChunkSize,
		KDFParams: kdf.Params{Method: kdf.MethodPBKDF2SHA256, Iterations: kdf.MinPBKDF2Iterations},
	})
	require.NoError(t, err)
	return v, dir, func() { v.Close() }
}

// faceVector produces a deterministic pseudo-random embedding. The same seed
// always yields the same vector; different seeds yield near-orthogonal ones,
// far below any sane similarity threshold.
func faceVector(seed int64) embedding.Vector {
	rng := rand.New(rand.NewSource(seed))
	vec := make(embedding.Vector, embedding.DefaultDimension)
	for i := range vec {
		vec[i] = rng.Float32() - 0.5
	}
	return vec
}

// captures builds n good-quality captures of the same face. Every capture
// owns its vector: callers wipe accepted samples, so sharing one backing
// array would corrupt later captures.
func captures(seed int64, quality float64, n int) []embedding.Capture {
	out := make([]embedding.Capture, n)
	for i := range out {
		vec := faceVector(seed)
		out[i] = embedding.Capture{Vector: vec, Quality: quality}
	}
	return out
}

func sourceOf(seed int64, quality float64, n int) *embedding.ScriptedSource {
	return &embedding.ScriptedSource{Captures: captures(seed, quality, n)}
}

// enrollUser is the common happy-path enrollment used by file operation tests.
func enrollUser(t *testing.T, v *Vault, userID string, seed int64) {
	t.Helper()
	_, err := v.Enroll(context.Background(), userID, sourceOf(seed, 0.9, 3), nil)
	require.NoError(t, err)
}

// slowSource delays each capture, to drive sessions into their time budget.
type slowSource struct {
	delay time.Duration
	seed  int64
}

func (s *slowSource) Capture(ctx context.Context) (embedding.Capture, error) {
	select {
	case <-ctx.Done():
		return embedding.Capture{}, ctx.Err()
	case <-time.After(s.delay):
	}
	return embedding.Capture{Vector: faceVector(s.seed), Quality: 0.9}, nil
}

package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultDimension matches the output width of the external face-recognition
// component. The vault never inspects individual dimensions; it only requires
// that all vectors for a user share the same length.
const DefaultDimension = 512

// quantizationScale fixes the precision used when a vector is turned into key
// material. Four decimal places is well below the noise floor of the stored
// template while keeping the byte serialization stable across platforms.
const quantizationScale = 10000

// Vector is a fixed-length face embedding.
type Vector []float32

// Capture is one sample returned by a Source: the embedding plus the quality
// score reported by the face-recognition component, in [0,1].
type Capture struct {
	Vector  Vector
	Quality float64
}

// CosineSimilarity returns the cosine similarity of a and b in [-1,1].
func CosineSimilarity(a, b Vector) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cannot compare empty embeddings")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cannot compare zero-magnitude embedding")
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Centroid aggregates accepted enrollment samples by per-dimension mean.
// Averaging reduces sensor and pose noise compared to keeping any single
// sample. All samples must share the same dimension.
func Centroid(samples []Vector) (Vector, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to aggregate")
	}
	dim := len(samples[0])
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("sample %d has dimension %d, expected %d", i, len(s), dim)
		}
	}

	sums := make([]float64, dim)
	for _, s := range samples {
		for i, v := range s {
			sums[i] += float64(v)
		}
	}

	mean := make(Vector, dim)
	for i := range sums {
		mean[i] = float32(sums[i] / float64(len(samples)))
	}
	return mean, nil
}

// Quantize serializes the vector as fixed-point little-endian int32 values.
// The rounding removes floating-point jitter so the same stored template
// always produces byte-identical key material.
func Quantize(v Vector) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		q := int32(math.Round(float64(f) * quantizationScale))
		binary.LittleEndian.PutUint32(out[i*4:], uint32(q))
	}
	return out
}

// Zero overwrites the vector in place. Callers holding a decrypted template
// must call this on every exit path.
func Zero(v Vector) {
	for i := range v {
		v[i] = 0
	}
}

// ZeroBytes overwrites a byte slice holding derived secret material.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

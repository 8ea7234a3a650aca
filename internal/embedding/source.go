package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Detection failures reported by the face-recognition component. These are
// recoverable: the enrollment and authentication loops retry them within
// their attempt and time budgets.
var (
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
	ErrDeviceUnavailable     = errors.New("capture device unavailable")
)

// IsDetectionError reports whether err is a recoverable detection failure as
// opposed to a hard device or I/O failure.
func IsDetectionError(err error) bool {
	return errors.Is(err, ErrNoFaceDetected) || errors.Is(err, ErrMultipleFacesDetected)
}

// Source abstracts the external face-recognition component: one call returns
// one embedding with its quality score, or a detection failure. Production
// and test implementations both satisfy it.
type Source interface {
	Capture(ctx context.Context) (Capture, error)
}

// ScriptedSource replays a fixed sequence of captures and errors. It backs
// tests and the CLI's scripted mode; once the script is exhausted it reports
// ErrNoFaceDetected.
type ScriptedSource struct {
	Captures []Capture
	Errs     []error
	pos      int
}

func (s *ScriptedSource) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	i := s.pos
	s.pos++
	if i < len(s.Errs) && s.Errs[i] != nil {
		return Capture{}, s.Errs[i]
	}
	if i < len(s.Captures) {
		return s.Captures[i], nil
	}
	return Capture{}, ErrNoFaceDetected
}

// FileSource reads a single embedding from a JSON file of the form
// {"embedding": [...], "quality": 0.9} and returns it for every capture.
// It exists so the CLI can be driven without camera hardware.
type FileSource struct {
	Path string
}

func (f *FileSource) Capture(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}

	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return Capture{}, fmt.Errorf("failed to read embedding file: %w", err)
	}

	var payload struct {
		Embedding []float32 `json:"embedding"`
		Quality   float64   `json:"quality"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Capture{}, fmt.Errorf("failed to parse embedding file: %w", err)
	}
	if len(payload.Embedding) == 0 {
		return Capture{}, ErrNoFaceDetected
	}

	return Capture{Vector: payload.Embedding, Quality: payload.Quality}, nil
}

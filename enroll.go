package facevault

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/embedding"
	"github.com/lumivault/facevault/internal/store"
)

const saltSize = 32

// EnrollOptions overrides the vault defaults for one enrollment session.
type EnrollOptions struct {
	MinSamples       int
	QualityThreshold float64
	Timeout          time.Duration
	// MaxAttempts caps capture attempts independently of the timeout.
	// Zero means ten attempts per required sample.
	MaxAttempts int
}

// EnrollmentResult summarizes a successful enrollment.
type EnrollmentResult struct {
	UserID         string
	SampleCount    int
	AverageQuality float64
	CreatedAt      time.Time
}

// Enroll captures samples from source until enough pass the quality gate,
// aggregates them into a template and persists it atomically. It fails if
// the user already has a non-revoked template; re-enrollment after deletion
// or revocation produces a fresh salt, so previously derived keys die with
// the old template.
func (v *Vault) Enroll(ctx context.Context, userID string, source embedding.Source, opts *EnrollOptions) (*EnrollmentResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if source == nil {
		return nil, fmt.Errorf("capture source must not be nil")
	}

	minSamples := v.config.MinSamples
	qualityThreshold := v.config.QualityThreshold
	timeout := v.config.OperationTimeout
	maxAttempts := 0
	if opts != nil {
		if opts.MinSamples > 0 {
			minSamples = opts.MinSamples
		}
		if opts.QualityThreshold > 0 {
			qualityThreshold = opts.QualityThreshold
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		maxAttempts = opts.MaxAttempts
	}
	if maxAttempts == 0 {
		maxAttempts = minSamples * 10
	}

	mu := v.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	exists, err := v.store.HasUser(userID)
	if err != nil {
		return nil, err
	}
	if exists {
		meta, err := v.store.LoadMeta(userID)
		if err != nil {
			return nil, err
		}
		if meta.Consent != store.ConsentRevoked {
			return nil, ErrUserExists
		}
		// A revoked template may be replaced; the save below is a full
		// replacement with a new salt and wrapping key.
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	samples := make([]embedding.Vector, 0, minSamples)
	defer func() {
		for _, s := range samples {
			embedding.Zero(s)
		}
	}()

	var qualitySum float64
	attempts := 0

	for len(samples) < minSamples && attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			break
		}
		attempts++

		capture, err := v.captureOnce(ctx, source)
		if err != nil {
			if embedding.IsDetectionError(err) {
				log.WithFields(logrus.Fields{"user_id": userID, "attempt": attempts}).Debug("detection failure during enrollment, retrying")
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			v.auditAppend(audit.EventEnrollment, userID, "error", map[string]string{"reason": "capture failure"})
			return nil, fmt.Errorf("capture failed during enrollment: %w", err)
		}

		if capture.Quality < qualityThreshold {
			// Discarded samples never count toward the template.
			embedding.Zero(capture.Vector)
			log.WithFields(logrus.Fields{"user_id": userID, "attempt": attempts}).Debug("sample below quality threshold, retrying")
			continue
		}

		samples = append(samples, capture.Vector)
		qualitySum += capture.Quality
	}

	if err := ctx.Err(); err != nil && len(samples) < minSamples {
		reason := "timeout"
		if errors.Is(err, context.Canceled) {
			reason = "cancelled"
		}
		v.auditAppend(audit.EventEnrollment, userID, "failure", map[string]string{
			"reason":   reason,
			"attempts": strconv.Itoa(attempts),
		})
		return nil, &EnrollmentTimeoutError{Attempts: attempts, Accepted: len(samples)}
	}
	if len(samples) < minSamples {
		v.auditAppend(audit.EventEnrollment, userID, "failure", map[string]string{
			"reason":   "attempt cap exhausted",
			"attempts": strconv.Itoa(attempts),
		})
		return nil, &EnrollmentTimeoutError{Attempts: attempts, Accepted: len(samples)}
	}

	centroid, err := embedding.Centroid(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate enrollment samples: %w", err)
	}
	defer embedding.Zero(centroid)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate enrollment salt: %w", err)
	}

	now := time.Now().UTC()
	template := &store.Template{
		UserID:       userID,
		Embedding:    centroid,
		QualityScore: qualitySum / float64(len(samples)),
		SampleCount:  len(samples),
		Salt:         salt,
		KDFParams:    v.config.KDFParams,
		Consent:      store.ConsentGranted,
		ConsentAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := v.store.SaveTemplate(template); err != nil {
		return nil, err
	}

	v.auditAppend(audit.EventEnrollment, userID, "success", map[string]string{
		"samples":    strconv.Itoa(template.SampleCount),
		"kdf_method": template.KDFParams.Method,
	})
	log.WithFields(logrus.Fields{"user_id": userID, "samples": template.SampleCount}).Info("user enrolled")

	return &EnrollmentResult{
		UserID:         userID,
		SampleCount:    template.SampleCount,
		AverageQuality: template.QualityScore,
		CreatedAt:      now,
	}, nil
}

// captureOnce takes the camera lock for the duration of a single capture so
// concurrent sessions for different users serialize on the device.
func (v *Vault) captureOnce(ctx context.Context, source embedding.Source) (embedding.Capture, error) {
	v.captureMu.Lock()
	defer v.captureMu.Unlock()
	return source.Capture(ctx)
}

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

// Authentication session states. Terminal outcomes are modeled as values of
// AuthOutcome; retry limits and timeouts are structural properties of the
// state loop, not incidental control flow.
type authState int

const (
	stateCapturing authState = iota
	stateComparing
)

// AuthOutcome is the terminal state of an authentication session.
type AuthOutcome string

const (
	AuthSuccess             AuthOutcome = "success"
	AuthTimeout             AuthOutcome = "timeout"
	AuthMaxAttemptsExceeded AuthOutcome = "max_attempts_exceeded"
	AuthCancelled           AuthOutcome = "cancelled"
)

// AuthOptions overrides the vault defaults for one authentication session.
type AuthOptions struct {
	SimilarityThreshold float64
	Timeout             time.Duration
	MaxAttempts         int
}

// AuthResult reports how a session terminated. Similarity is populated only
// on success; failed sessions never expose how close the face came.
type AuthResult struct {
	Outcome    AuthOutcome
	Attempts   int
	Similarity float64
}

// OK reports whether the session reached SUCCESS.
func (r *AuthResult) OK() bool { return r.Outcome == AuthSuccess }

// Authenticate runs one capture-and-compare session against the user's
// stored template. The response shape is identical for unknown users and
// wrong faces: both exhaust the session against a synthetic template, so
// neither the result nor its timing reveals whether the user exists.
func (v *Vault) Authenticate(ctx context.Context, userID string, source embedding.Source, opts *AuthOptions) (*AuthResult, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if source == nil {
		return nil, fmt.Errorf("capture source must not be nil")
	}

	threshold := v.config.SimilarityThreshold
	timeout := v.config.OperationTimeout
	maxAttempts := v.config.MaxAttempts
	if opts != nil {
		if opts.SimilarityThreshold != 0 {
			threshold = opts.SimilarityThreshold
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.MaxAttempts > 0 {
			maxAttempts = opts.MaxAttempts
		}
	}

	mu := v.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result        = &AuthResult{}
		live          embedding.Vector
		state         = stateCapturing
		failureBucket = "no_match"
		refReason     string
	)

	for result.Outcome == "" {
		switch state {
		case stateCapturing:
			if err := ctx.Err(); err != nil {
				result.Outcome = AuthTimeout
				if errors.Is(err, context.Canceled) {
					result.Outcome = AuthCancelled
				}
				break
			}
			if result.Attempts >= maxAttempts {
				result.Outcome = AuthMaxAttemptsExceeded
				break
			}
			result.Attempts++

			capture, err := v.captureOnce(ctx, source)
			if err != nil {
				if embedding.IsDetectionError(err) {
					// Counts as a failed attempt, reported distinctly from
					// a wrong identity.
					failureBucket = "detection"
					continue
				}
				if errors.Is(err, context.DeadlineExceeded) {
					result.Outcome = AuthTimeout
					break
				}
				if errors.Is(err, context.Canceled) {
					result.Outcome = AuthCancelled
					break
				}
				v.auditAppend(audit.EventAuthFailure, userID, "error", map[string]string{"reason": "capture failure"})
				return nil, fmt.Errorf("capture failed during authentication: %w", err)
			}
			live = capture.Vector
			state = stateComparing

		case stateComparing:
			// The template is decrypted for this comparison only and wiped
			// again before the next capture wait, so it is never held across
			// a camera delay. Unknown or revoked users get a synthetic
			// template so the pass runs the exact same code.
			reference, reason, err := v.referenceEmbedding(userID)
			if err != nil {
				embedding.Zero(live)
				return nil, err
			}
			refReason = reason

			similarity, simErr := embedding.CosineSimilarity(reference, live)
			embedding.Zero(reference)
			embedding.Zero(live)
			live = nil
			if simErr != nil {
				failureBucket = "invalid_embedding"
				state = stateCapturing
				continue
			}
			if reason == "" && similarity >= threshold {
				result.Outcome = AuthSuccess
				result.Similarity = similarity
				break
			}
			failureBucket = "no_match"
			state = stateCapturing
		}
	}

	v.recordAuthOutcome(userID, result, failureBucket, refReason)
	return result, nil
}

// referenceEmbedding loads the user's template embedding, or a random
// synthetic one when the user is unknown or has revoked consent. The second
// return value is the internal reason, empty for a live template.
func (v *Vault) referenceEmbedding(userID string) (embedding.Vector, string, error) {
	template, err := v.store.LoadTemplate(userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return syntheticEmbedding(), "unknown_user", nil
		}
		return nil, "", err
	}
	if template.Consent == store.ConsentRevoked {
		template.Zero()
		return syntheticEmbedding(), "consent_revoked", nil
	}
	return template.Embedding, "", nil
}

func syntheticEmbedding() embedding.Vector {
	raw := make([]byte, embedding.DefaultDimension)
	if _, err := rand.Read(raw); err != nil {
		// Fall back to a fixed pattern; the session can never succeed
		// against a synthetic template regardless of its contents.
		for i := range raw {
			raw[i] = byte(i)
		}
	}
	vec := make(embedding.Vector, embedding.DefaultDimension)
	for i, b := range raw {
		vec[i] = float32(b)/255 - 0.5
	}
	return vec
}

// recordAuthOutcome emits exactly one audit entry per terminal transition.
// Failure entries carry only a coarse bucket, never the achieved similarity,
// so reading the log reveals nothing about the threshold.
func (v *Vault) recordAuthOutcome(userID string, result *AuthResult, failureBucket, refReason string) {
	if result.Outcome == AuthSuccess {
		v.auditAppend(audit.EventAuthSuccess, userID, "success", map[string]string{
			"attempts": strconv.Itoa(result.Attempts),
		})
		log.WithFields(logrus.Fields{"user_id": userID, "attempts": result.Attempts}).Info("authentication succeeded")
		return
	}

	detail := map[string]string{
		"outcome":  string(result.Outcome),
		"bucket":   failureBucket,
		"attempts": strconv.Itoa(result.Attempts),
	}
	if refReason != "" {
		detail["reason"] = refReason
	}
	v.auditAppend(audit.EventAuthFailure, userID, string(result.Outcome), detail)
	log.WithFields(logrus.Fields{"user_id": userID, "outcome": result.Outcome}).Info("authentication failed")
}

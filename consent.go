package facevault

import (
	"context"

	"github.com/lumivault/facevault/internal/audit"
	"github.com/lumivault/facevault/internal/store"
)

// RevokeConsent marks the user's biometric consent as withdrawn. The
// template stays stored (sealed) but authentication and file operations are
// refused until consent is granted again or the user re-enrolls.
func (v *Vault) RevokeConsent(ctx context.Context, userID string) error {
	return v.setConsent(ctx, userID, store.ConsentRevoked)
}

// GrantConsent restores a previously revoked consent.
func (v *Vault) GrantConsent(ctx context.Context, userID string) error {
	return v.setConsent(ctx, userID, store.ConsentGranted)
}

func (v *Vault) setConsent(ctx context.Context, userID string, consent store.ConsentState) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := v.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := v.store.LoadMeta(userID)
	if err != nil {
		return err
	}
	if meta.Consent == consent {
		if consent == store.ConsentRevoked {
			return ErrConsentRevoked
		}
		return nil
	}

	if err := v.store.UpdateConsent(userID, consent); err != nil {
		return err
	}

	v.auditAppend(audit.EventConsentChange, userID, "success", map[string]string{"consent": string(consent)})
	return nil
}

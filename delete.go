package facevault

import (
	"context"

	"github.com/lumivault/facevault/internal/audit"
)

// DeleteUser destroys the user's template with crypto-erase-first semantics:
// the wrapping key protecting the template is overwritten before the records
// are removed, so filesystem remnants stay undecryptable. Existing
// containers for the user become permanently unrecoverable.
func (v *Vault) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := v.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := v.store.DeleteUser(userID); err != nil {
		return err
	}

	v.auditAppend(audit.EventDeleteUser, userID, "success", nil)
	return nil
}

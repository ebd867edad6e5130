package account

import (
	"context"
	"fmt"

	"github.com/driftlyhq/driftly/internal/services/auth/storage"
)

// StoreReferrals resolves referral codes against the user store. A code is
// the referring user's id; a code naming no account does not resolve.
type StoreReferrals struct {
	Users storage.UserStore
}

// Resolve returns the referrer's user id when the code names an account.
func (r StoreReferrals) Resolve(ctx context.Context, refCode string) (string, error) {
	u, err := r.Users.GetUser(ctx, refCode)
	if err != nil {
		return "", fmt.Errorf("lookup referrer: %w", err)
	}
	return u.ID, nil
}

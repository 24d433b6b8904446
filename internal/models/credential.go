package models

import "time"

// CredentialRecord is the persisted token pair for one user identity.
// Token fields hold ciphertext only; plaintext never reaches the store.
type CredentialRecord struct {
	UserID                string    `json:"user_id"`
	EncryptedAccessToken  string    `json:"-"`
	EncryptedRefreshToken string    `json:"-"`
	ExpiresAt             time.Time `json:"expires_at"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Expired reports whether the access token must be treated as unusable at
// the given instant. The stored expiry already includes the safety margin,
// so a plain comparison is enough.
func (r *CredentialRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Clone returns a copy so callers cannot mutate a stored record in place.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

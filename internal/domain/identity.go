package domain

import "time"

// IdentityKind distinguishes anonymous guests from registered accounts.
type IdentityKind string

const (
	IdentityGuest      IdentityKind = "guest"
	IdentityRegistered IdentityKind = "registered"
)

// Identity is the acting principal. Guest identities have no backend record
// and are tracked through the local guest store only.
type Identity struct {
	ID        string
	Email     string
	Kind      IdentityKind
	CreatedAt time.Time
}

// Guest reports whether the identity is anonymous.
func (i Identity) Guest() bool {
	return i.Kind == IdentityGuest
}

// DefaultTier returns the tier a fresh record for this identity starts on.
func (i Identity) DefaultTier() Tier {
	if i.Guest() {
		return TierGuest
	}
	return TierFree
}

// User is a registered account row.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         Tier
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity projects the account into an Identity value.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, Kind: IdentityRegistered, CreatedAt: u.CreatedAt}
}

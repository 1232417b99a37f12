package wellnessid

import (
	"context"
	"time"
)

// Account is the durable identity record. An account originates from exactly
// one enrollment path; a later link flow may attach a second provider id.
type Account struct {
	ID string `json:"id"`

	// Origin is the enrollment path that created the account.
	Origin Provider `json:"origin"`

	// External provider ids. Each is unique across accounts when set.
	KakaoID string `json:"kakao_id,omitempty"`
	NaverID string `json:"naver_id,omitempty"`

	// Handle is the chosen login handle for credential accounts. Unique,
	// matched case-sensitively.
	Handle string `json:"handle,omitempty"`

	Email string `json:"email,omitempty"` // unique when present
	Phone string `json:"phone,omitempty"` // from verification, unique when present

	// Verified legal identity.
	LegalName string `json:"legal_name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"` // YYYYMMDD
	Gender    string `json:"gender,omitempty"`

	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	// PasswordDigest is set only for credential accounts.
	PasswordDigest string `json:"-"`

	// Stored provider token material, kept to allow later re-verification.
	ProviderAccessToken  string `json:"-"`
	ProviderRefreshToken string `json:"-"`

	Locked          bool `json:"locked,omitempty"`
	RequireRotation bool `json:"require_rotation,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// ExternalID returns the external id stored for the given provider.
func (a *Account) ExternalID(provider Provider) string {
	switch provider {
	case ProviderKakao:
		return a.KakaoID
	case ProviderNaver:
		return a.NaverID
	}
	return ""
}

// SetExternalID stores an external id for the given provider.
func (a *Account) SetExternalID(provider Provider, id string) {
	switch provider {
	case ProviderKakao:
		a.KakaoID = id
	case ProviderNaver:
		a.NaverID = id
	}
}

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	Email       *string
	DisplayName *string
	AvatarURL   *string

	ProviderAccessToken  *string
	ProviderRefreshToken *string

	PasswordDigest  *string
	RequireRotation *bool
}

// AccountStore is the durable account repository. Create must enforce the
// uniqueness of each external id, email, handle and phone at the constraint
// level, not by check-then-insert: when two requests race to create the same
// identity the loser gets ErrAccountExists. Lookups return ErrAccountNotFound
// when nothing matches.
type AccountStore interface {
	FindByExternalID(ctx context.Context, provider Provider, externalID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByHandle(ctx context.Context, handle string) (*Account, error)
	FindByPhone(ctx context.Context, phone string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)

	Create(ctx context.Context, account *Account) error
	Update(ctx context.Context, id string, update AccountUpdate) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

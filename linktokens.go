package wellnessid

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// LinkToken is a short-lived, one-shot token that lets a logged-in account
// start attaching an additional provider. The token, not the session cookie,
// carries the link intent across the provider round trip.
type LinkToken struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UsedAt    time.Time `json:"used_at,omitempty"`
}

func (t *LinkToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// LinkTokenStore persists link tokens. Consume must be atomic: the second
// consumer of the same token gets ErrTokenUsed.
type LinkTokenStore interface {
	SaveToken(ctx context.Context, token *LinkToken) error

	// ConsumeToken marks the token used and returns it. ErrTokenNotFound for
	// unknown tokens, ErrTokenUsed for already-consumed ones.
	ConsumeToken(ctx context.Context, token string) (*LinkToken, error)
}

// GenerateSecureToken returns a URL-safe random token of nbytes entropy.
func GenerateSecureToken(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueLinkToken mints a link token for the account toward the given
// federated provider.
func (e *Enrollment) IssueLinkToken(ctx context.Context, accountID string, provider Provider) (*LinkToken, error) {
	e.EnsureDefaults()
	if e.LinkTokens == nil {
		return nil, fmt.Errorf("link tokens are not configured")
	}
	if !provider.Federated() {
		return nil, fmt.Errorf("cannot link provider %q", provider)
	}

	raw, err := GenerateSecureToken(24)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	token := &LinkToken{
		Token:     raw,
		AccountID: accountID,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(LinkTokenTTL),
	}
	if err := e.LinkTokens.SaveToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ConsumeLinkToken redeems a link token. Expired tokens are reported as
// ErrTokenNotFound; the caller cannot distinguish expiry from absence.
func (e *Enrollment) ConsumeLinkToken(ctx context.Context, raw string) (*LinkToken, error) {
	e.EnsureDefaults()
	if e.LinkTokens == nil {
		return nil, fmt.Errorf("link tokens are not configured")
	}
	token, err := e.LinkTokens.ConsumeToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if token.Expired(e.Now()) {
		return nil, ErrTokenNotFound
	}
	return token, nil
}

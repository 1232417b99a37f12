package wellnessid

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default validity windows. The session TTL bounds the cookie; step TTLs are
// enforced on top via the principal's embedded StepDeadline.
const (
	SessionTokenTTL     = 7 * 24 * time.Hour
	VerificationStepTTL = 15 * time.Minute
	LinkTokenTTL        = 5 * time.Minute
)

// TokenCodec signs and verifies session tokens carrying a Principal. It is
// stateless: every step mints a fresh token and the previous one is simply
// overwritten client-side.
type TokenCodec struct {
	// SecretKey signs tokens (HS256). Falls back to WELLNESSID_JWT_SECRET_KEY.
	SecretKey string

	Issuer string

	// TTL is the token validity window. Defaults to SessionTokenTTL.
	TTL time.Duration
}

func (c *TokenCodec) EnsureDefaults() *TokenCodec {
	if c.SecretKey == "" {
		c.SecretKey = strings.TrimSpace(os.Getenv("WELLNESSID_JWT_SECRET_KEY"))
		if c.SecretKey == "" {
			c.SecretKey = "WellnessIDDevSecretKey123456"
		}
	}
	if c.Issuer == "" {
		c.Issuer = "WellnessID"
	}
	if c.TTL <= 0 {
		c.TTL = SessionTokenTTL
	}
	return c
}

// Encode signs the principal into a compact session token.
func (c *TokenCodec) Encode(p *Principal, now time.Time) (string, error) {
	c.EnsureDefaults()
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("refusing to encode invalid principal: %w", err)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal principal: %w", err)
	}

	sub := p.Ref.Durable
	if p.IsProvisional() {
		sub = string(p.Ref.Provisional.Provider)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iss": c.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(c.TTL).Unix(),
		"wid": json.RawMessage(payload),
	})
	return token.SignedString([]byte(c.SecretKey))
}

// Decode verifies the signature and validity window and returns the embedded
// principal. Step deadlines are not checked here; each step checks its own.
func (c *TokenCodec) Decode(tokenString string) (*Principal, error) {
	c.EnsureDefaults()

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(c.SecretKey), nil
	}, jwt.WithIssuer(c.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return nil, fmt.Errorf("claims is not a map")
	}
	raw, ok := claims["wid"]
	if !ok {
		return nil, fmt.Errorf("token carries no principal")
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode principal claim: %w", err)
	}

	var p Principal
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal principal: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("token carries invalid principal: %w", err)
	}
	return &p, nil
}

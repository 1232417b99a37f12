package wellnessid

import (
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// CredentialPolicy defines what a chosen handle and password must look like.
type CredentialPolicy struct {
	// HandlePattern validates the chosen handle. Defaults to 4-20 characters
	// of letters, numbers, underscores and hyphens.
	HandlePattern string

	// MinPasswordLength defaults to 8.
	MinPasswordLength int

	compiled *regexp.Regexp
}

var defaultHandlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{4,20}$`)

// Passwords must mix at least one letter with at least one digit.
var (
	passwordLetter = regexp.MustCompile(`[a-zA-Z]`)
	passwordDigit  = regexp.MustCompile(`[0-9]`)
)

func DefaultCredentialPolicy() *CredentialPolicy {
	return &CredentialPolicy{MinPasswordLength: 8}
}

func (p *CredentialPolicy) handleRegexp() *regexp.Regexp {
	if p.HandlePattern == "" {
		return defaultHandlePattern
	}
	if p.compiled == nil || p.compiled.String() != p.HandlePattern {
		p.compiled = regexp.MustCompile(p.HandlePattern)
	}
	return p.compiled
}

func (p *CredentialPolicy) minPasswordLength() int {
	if p.MinPasswordLength <= 0 {
		return 8
	}
	return p.MinPasswordLength
}

// ValidateHandle checks the handle's shape only; uniqueness is the
// orchestrator's job.
func (p *CredentialPolicy) ValidateHandle(handle string) *FlowError {
	if handle == "" {
		return NewFlowError(CodeInvalidHandle, "Handle is required")
	}
	if !p.handleRegexp().MatchString(handle) {
		return NewFlowError(CodeInvalidHandle, "Handle must be 4-20 characters and contain only letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidatePassword enforces the strength rule: minimum length plus at least
// one letter and one digit.
func (p *CredentialPolicy) ValidatePassword(password string) *FlowError {
	if len(password) < p.minPasswordLength() {
		return NewFlowError(CodeWeakPassword, fmt.Sprintf("Password must be at least %d characters", p.minPasswordLength()))
	}
	if !passwordLetter.MatchString(password) || !passwordDigit.MatchString(password) {
		return NewFlowError(CodeWeakPassword, "Password must contain both letters and digits")
	}
	return nil
}

// HashPassword produces the stored one-way digest.
func HashPassword(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// CheckPassword compares a candidate password against a stored digest in
// constant time.
func CheckPassword(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

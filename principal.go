package wellnessid

import (
	"fmt"
	"time"

	"github.com/purelife/wellnessid/verify"
)

// Provider identifies an enrollment origin.
type Provider string

const (
	ProviderKakao    Provider = "kakao"
	ProviderNaver    Provider = "naver"
	ProviderWellness Provider = "wellness" // first-party credential accounts
)

// FederatedProviders lists the external identity providers.
var FederatedProviders = []Provider{ProviderKakao, ProviderNaver}

func (p Provider) Valid() bool {
	switch p {
	case ProviderKakao, ProviderNaver, ProviderWellness:
		return true
	}
	return false
}

// Federated reports whether the provider is an external identity provider.
func (p Provider) Federated() bool {
	return p == ProviderKakao || p == ProviderNaver
}

// EnrollmentPath distinguishes which terminal step is still pending for a
// provisional principal: immediate creation (federated) or handle/password
// entry (credential).
type EnrollmentPath string

const (
	PathFederated  EnrollmentPath = "federated"
	PathCredential EnrollmentPath = "credential"
)

// ProvisionalRef identifies an in-progress enrollment that has no account row
// yet. For credential signups ExternalID is empty and StartedAt disambiguates
// the session.
type ProvisionalRef struct {
	Provider   Provider  `json:"provider"`
	ExternalID string    `json:"external_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// AccountRef is a tagged reference: either a durable account ID or a
// provisional marker. Exactly one side is set; "is this account real" is a
// type-level check, not a string-prefix convention.
type AccountRef struct {
	Durable     string          `json:"durable,omitempty"`
	Provisional *ProvisionalRef `json:"provisional,omitempty"`
}

func DurableRef(accountID string) AccountRef {
	return AccountRef{Durable: accountID}
}

func ProvisionalFederatedRef(provider Provider, externalID string, now time.Time) AccountRef {
	return AccountRef{Provisional: &ProvisionalRef{Provider: provider, ExternalID: externalID, StartedAt: now}}
}

func ProvisionalCredentialRef(now time.Time) AccountRef {
	return AccountRef{Provisional: &ProvisionalRef{Provider: ProviderWellness, StartedAt: now}}
}

func (r AccountRef) IsProvisional() bool { return r.Provisional != nil }

func (r AccountRef) Validate() error {
	if (r.Durable == "") == (r.Provisional == nil) {
		return fmt.Errorf("account ref must be exactly one of durable or provisional")
	}
	return nil
}

// ProviderToken holds provider token material carried transiently on a
// provisional principal. It is never the credential of record; the account's
// stored token fields are the source of truth after creation.
type ProviderToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Principal is the payload carried inside the signed session token: the
// caller's identity and its progress through enrollment. Each step produces a
// brand-new principal and token; the token is a cache of progress, never the
// source of truth for anything already committed to the account store.
type Principal struct {
	Ref      AccountRef `json:"ref"`
	Provider Provider   `json:"provider"`

	ExternalID  string `json:"external_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	Path             EnrollmentPath `json:"path,omitempty"`
	AgreedToTerms    bool           `json:"agreed_terms"`
	IdentityVerified bool           `json:"identity_verified"`

	// Attributes are present only between verification success and durable
	// account creation; they contain regulated personal data and must be
	// discarded when the principal is promoted.
	Attributes *verify.Attributes `json:"attributes,omitempty"`

	// ProviderToken is transient provider token material, see ProviderToken.
	ProviderToken *ProviderToken `json:"provider_token,omitempty"`

	// StepDeadline bounds the current enrollment step. An unexpired cookie
	// carrying an expired step deadline is still rejected by the step logic.
	StepDeadline time.Time `json:"step_deadline,omitempty"`
}

// IsProvisional reports whether the principal has no durable account yet.
// A provisional principal must never be treated as authenticated for
// protected-resource access.
func (p *Principal) IsProvisional() bool { return p.Ref.IsProvisional() }

// StepExpired reports whether the embedded step deadline has lapsed.
func (p *Principal) StepExpired(now time.Time) bool {
	return !p.StepDeadline.IsZero() && now.After(p.StepDeadline)
}

// Validate checks the principal's structural invariants.
func (p *Principal) Validate() error {
	if err := p.Ref.Validate(); err != nil {
		return err
	}
	if !p.Provider.Valid() {
		return fmt.Errorf("unknown provider %q", p.Provider)
	}
	if !p.IsProvisional() {
		if !p.AgreedToTerms || !p.IdentityVerified {
			return fmt.Errorf("durable principal must have agreed terms and verified identity")
		}
		if p.Attributes != nil {
			return fmt.Errorf("durable principal must not carry verification attributes")
		}
	}
	if p.ExternalID != "" && p.Path == PathCredential {
		return fmt.Errorf("principal cannot be both federated and credential")
	}
	return nil
}

// DurablePrincipal builds the session principal for a created or logged-in
// account. Verification attributes and transient token material are dropped.
func DurablePrincipal(account *Account, provider Provider) *Principal {
	return &Principal{
		Ref:              DurableRef(account.ID),
		Provider:         provider,
		ExternalID:       account.ExternalID(provider),
		Email:            account.Email,
		DisplayName:      account.DisplayName,
		AvatarURL:        account.AvatarURL,
		AgreedToTerms:    true,
		IdentityVerified: true,
	}
}

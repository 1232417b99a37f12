package wellnessid

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	oagw "github.com/purelife/wellnessid/oauth2"
	"github.com/purelife/wellnessid/verify"
)

// Outcome is the terminal classification of one orchestrator step.
type Outcome string

const (
	// OutcomeEnrolled means a durable account was just created.
	OutcomeEnrolled Outcome = "enrolled"

	// OutcomeLoggedIn means an existing account was identified and logged in.
	OutcomeLoggedIn Outcome = "logged_in"

	// Pending outcomes carry the next enrollment step.
	OutcomeTermsPending        Outcome = "terms_pending"
	OutcomeVerificationPending Outcome = "verification_pending"
	OutcomeCredentialsPending  Outcome = "credentials_pending"

	// OutcomeRejected is a deterministic policy rejection; repeating the same
	// step cannot succeed. Result.Reject names the reason.
	OutcomeRejected Outcome = "rejected"

	// OutcomeError is a gateway or server failure; the step may be retried
	// and the caller's principal is left unchanged.
	OutcomeError Outcome = "error"
)

// Result is what every orchestrator operation returns. Principal is the next
// session principal to write client-side; nil means the caller's session is
// left as it was, unless ClearSession says otherwise.
type Result struct {
	Outcome   Outcome
	Principal *Principal
	Account   *Account

	// ClearSession ends the caller's session when Principal is nil. Error
	// outcomes and out-of-flow rejections leave the session untouched, so a
	// logged-in user who hits a provider outage stays logged in.
	ClearSession bool

	// Redirect is the next-step or recovery path. Always set, so the client
	// has a valid place to go even on rejection.
	Redirect string

	// Reject is set for OutcomeRejected and OutcomeError.
	Reject *FlowError

	// RotationRequired relays the repository's password-rotation flag.
	RotationRequired bool
}

// Enrollment orchestrates signup across both paths: federated callbacks and
// the first-party credential flow. All state between requests travels in the
// signed session token; the account store is the only shared mutable
// resource.
type Enrollment struct {
	Accounts  AccountStore
	Providers map[Provider]oagw.Gateway
	Verifier  verify.Gateway
	Policy    *CredentialPolicy
	Login     *Login

	// Optional store for one-time provider link tokens.
	LinkTokens LinkTokenStore

	// Redirect targets. Each has a sensible default.
	TermsURL        string
	VerificationURL string
	CredentialsURL  string
	UnderAgeURL     string
	RegisteredURL   string
	ErrorURL        string
	HomeURL         string

	// VerificationTTL bounds the verification step. Defaults to
	// VerificationStepTTL.
	VerificationTTL time.Duration

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (e *Enrollment) EnsureDefaults() *Enrollment {
	if e.Policy == nil {
		e.Policy = DefaultCredentialPolicy()
	}
	if e.Login == nil {
		e.Login = &Login{Accounts: e.Accounts, Now: e.Now}
	}
	if e.TermsURL == "" {
		e.TermsURL = "/enroll/terms"
	}
	if e.VerificationURL == "" {
		e.VerificationURL = "/enroll/verify"
	}
	if e.CredentialsURL == "" {
		e.CredentialsURL = "/enroll/credentials"
	}
	if e.UnderAgeURL == "" {
		e.UnderAgeURL = "/enroll/notice/underage"
	}
	if e.RegisteredURL == "" {
		e.RegisteredURL = "/enroll/notice/registered"
	}
	if e.ErrorURL == "" {
		e.ErrorURL = "/enroll/notice/error"
	}
	if e.HomeURL == "" {
		e.HomeURL = "/"
	}
	if e.VerificationTTL <= 0 {
		e.VerificationTTL = VerificationStepTTL
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// HandleFederatedCallback processes an OAuth callback for the given provider:
// resume an interrupted flow, degrade to login for a known account, or start
// a fresh provisional enrollment.
func (e *Enrollment) HandleFederatedCallback(ctx context.Context, provider Provider, code string, resumed *Principal) (*Result, error) {
	e.EnsureDefaults()

	if !provider.Federated() {
		return e.serverError("unknown provider"), nil
	}

	// A provisional principal for the same provider resumes where it left
	// off. A different provider means the user switched identities mid-flow;
	// the stale principal is discarded rather than silently merged.
	if resumed != nil && resumed.IsProvisional() && resumed.Provider == provider {
		return e.resumeFederated(ctx, resumed)
	}

	gw, ok := e.Providers[provider]
	if !ok {
		return e.serverError("provider not configured"), nil
	}

	token, err := gw.ExchangeCode(ctx, code)
	if err != nil {
		slog.Info("code exchange failed", "provider", provider, "err", err)
		return e.gatewayError(provider), nil
	}
	profile, err := gw.FetchProfile(ctx, token)
	if err != nil {
		slog.Info("profile fetch failed", "provider", provider, "err", err)
		return e.gatewayError(provider), nil
	}

	// Known external id: this is a login, not a signup.
	account, err := e.Accounts.FindByExternalID(ctx, provider, profile.ProviderID)
	if err == nil {
		return e.Login.Federated(ctx, provider, profile, account)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	// Unknown id but known email: the email belongs to an account enrolled
	// through another path. Reject, naming only the other path.
	if profile.Email != "" {
		other, err := e.Accounts.FindByEmail(ctx, profile.Email)
		if err == nil {
			return &Result{
				Outcome:  OutcomeRejected,
				Redirect: e.RegisteredURL,
				Reject: &FlowError{
					Code:     CodeAlreadyRegistered,
					Message:  "This email is already registered through another provider",
					Provider: other.Origin,
					MaskedID: MaskEmail(profile.Email),
				},
			}, nil
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}

	// Fresh enrollment: mint a provisional principal and send to terms.
	now := e.Now()
	principal := &Principal{
		Ref:         ProvisionalFederatedRef(provider, profile.ProviderID, now),
		Provider:    provider,
		ExternalID:  profile.ProviderID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Path:        PathFederated,
	}
	if token != nil {
		principal.ProviderToken = &ProviderToken{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			ExpiresAt:    token.Expiry,
		}
	}
	return &Result{Outcome: OutcomeTermsPending, Principal: principal, Redirect: e.TermsURL}, nil
}

// resumeFederated branches on the resumed principal's progress.
func (e *Enrollment) resumeFederated(ctx context.Context, p *Principal) (*Result, error) {
	switch {
	case p.AgreedToTerms && p.IdentityVerified:
		return e.finalizeFederated(ctx, p)
	case p.AgreedToTerms:
		return &Result{Outcome: OutcomeVerificationPending, Principal: p, Redirect: e.VerificationURL}, nil
	default:
		return &Result{Outcome: OutcomeTermsPending, Principal: p, Redirect: e.TermsURL}, nil
	}
}

// InitiateDirectSignup starts the first-party credential flow with a fresh
// provisional principal.
func (e *Enrollment) InitiateDirectSignup(ctx context.Context) (*Result, error) {
	e.EnsureDefaults()
	principal := &Principal{
		Ref:      ProvisionalCredentialRef(e.Now()),
		Provider: ProviderWellness,
		Path:     PathCredential,
	}
	return &Result{Outcome: OutcomeTermsPending, Principal: principal, Redirect: e.TermsURL}, nil
}

// AgreeTerms records explicit terms acceptance and opens the verification
// window.
func (e *Enrollment) AgreeTerms(ctx context.Context, p *Principal) (*Result, error) {
	e.EnsureDefaults()
	if p == nil || !p.IsProvisional() {
		return e.unauthorized(), nil
	}

	next := *p
	next.AgreedToTerms = true
	next.StepDeadline = e.Now().Add(e.VerificationTTL)
	return &Result{Outcome: OutcomeVerificationPending, Principal: &next, Redirect: e.VerificationURL}, nil
}

// CompleteVerification exchanges a one-time transaction reference for
// verified attributes, invalidates the vendor record, and immediately runs
// the duplicate/age guard. For the federated path a clean NEW classification
// finalizes the account on the spot; the credential path proceeds to the
// handle/password step.
func (e *Enrollment) CompleteVerification(ctx context.Context, p *Principal, transactionRef string) (*Result, error) {
	e.EnsureDefaults()
	if p == nil || !p.IsProvisional() {
		return e.unauthorized(), nil
	}

	// Terms must come first; no gateway call happens before the precondition
	// holds.
	if !p.AgreedToTerms {
		return &Result{
			Outcome:   OutcomeTermsPending,
			Principal: p,
			Redirect:  e.TermsURL,
			Reject:    NewFlowError(CodeTermsRequired, "Terms agreement is required before verification"),
		}, nil
	}

	now := e.Now()
	if p.StepExpired(now) {
		// Recovery restarts the step with a fresh window.
		next := *p
		next.StepDeadline = now.Add(e.VerificationTTL)
		return &Result{
			Outcome:   OutcomeVerificationPending,
			Principal: &next,
			Redirect:  e.VerificationURL,
			Reject:    NewFlowError(CodeSessionExpired, "Verification window expired, please verify again"),
		}, nil
	}

	gatewayToken, err := e.Verifier.AcquireAccessToken(ctx)
	if err != nil {
		slog.Info("verification token acquisition failed", "err", err)
		return e.verificationError(p), nil
	}
	attrs, err := e.Verifier.RetrieveAttributes(ctx, gatewayToken, transactionRef)
	if err != nil {
		slog.Info("verification retrieval failed", "ref", transactionRef, "err", err)
		return e.verificationError(p), nil
	}

	// The vendor record holds regulated personal data; drop it as soon as the
	// attributes are in hand. Best-effort: a failure here is logged, not fatal.
	if err := e.Verifier.Invalidate(ctx, gatewayToken, transactionRef); err != nil {
		slog.Warn("verification invalidate failed", "ref", transactionRef, "err", err)
	}

	guard, err := Classify(ctx, attrs, now, e.Accounts)
	if err != nil {
		return nil, err
	}

	switch guard.Class {
	case ClassUnderAge:
		// The principal stays provisional but unverified: enrollment cannot
		// proceed without restarting.
		next := *p
		next.IdentityVerified = false
		next.Attributes = nil
		next.StepDeadline = time.Time{}
		return &Result{
			Outcome:   OutcomeRejected,
			Principal: &next,
			Redirect:  e.UnderAgeURL,
			Reject:    NewFlowError(CodeUnderAge, "Enrollment requires a minimum age of 14"),
		}, nil

	case ClassExisting:
		// Terminal for this enrollment: the provisional session ends here.
		return &Result{
			Outcome:      OutcomeRejected,
			ClearSession: true,
			Redirect:     e.RegisteredURL,
			Reject: &FlowError{
				Code:     CodeAlreadyRegistered,
				Message:  "An account already exists for this identity",
				Provider: guard.Origin,
				MaskedID: guard.MaskedID,
			},
		}, nil
	}

	next := *p
	next.IdentityVerified = true
	next.Attributes = attrs
	next.StepDeadline = time.Time{}

	if next.Path == PathCredential {
		return &Result{Outcome: OutcomeCredentialsPending, Principal: &next, Redirect: e.CredentialsURL}, nil
	}
	return e.finalizeFederated(ctx, &next)
}

// CompleteCredentials finishes the credential path: handle uniqueness,
// password policy, account creation.
func (e *Enrollment) CompleteCredentials(ctx context.Context, p *Principal, handle, password string) (*Result, error) {
	e.EnsureDefaults()
	if p == nil || !p.IsProvisional() || p.Path != PathCredential {
		return e.unauthorized(), nil
	}

	// Out-of-order invocation restarts from the earliest unmet step.
	if !p.AgreedToTerms {
		return &Result{
			Outcome:   OutcomeTermsPending,
			Principal: p,
			Redirect:  e.TermsURL,
			Reject:    NewFlowError(CodeTermsRequired, "Terms agreement is required"),
		}, nil
	}
	if !p.IdentityVerified || p.Attributes == nil {
		return &Result{
			Outcome:   OutcomeVerificationPending,
			Principal: p,
			Redirect:  e.VerificationURL,
			Reject:    NewFlowError(CodeVerificationRequired, "Identity verification is required"),
		}, nil
	}

	if ferr := e.Policy.ValidateHandle(handle); ferr != nil {
		return &Result{Outcome: OutcomeRejected, Principal: p, Redirect: e.CredentialsURL, Reject: ferr}, nil
	}
	if ferr := e.Policy.ValidatePassword(password); ferr != nil {
		return &Result{Outcome: OutcomeRejected, Principal: p, Redirect: e.CredentialsURL, Reject: ferr}, nil
	}

	// Pre-check for a friendlier error; the create below still races safely
	// on the store's uniqueness constraint.
	if _, err := e.Accounts.FindByHandle(ctx, handle); err == nil {
		return &Result{
			Outcome:   OutcomeRejected,
			Principal: p,
			Redirect:  e.CredentialsURL,
			Reject:    NewFlowError(CodeHandleTaken, "Handle is already taken"),
		}, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	digest, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	account := &Account{
		ID:             uuid.NewString(),
		Origin:         ProviderWellness,
		Handle:         handle,
		Email:          p.Email,
		Phone:          p.Attributes.Phone,
		LegalName:      p.Attributes.LegalName,
		BirthDate:      p.Attributes.BirthDate,
		Gender:         p.Attributes.Gender,
		DisplayName:    p.DisplayName,
		PasswordDigest: digest,
		CreatedAt:      now,
		LastLoginAt:    now,
	}
	if account.DisplayName == "" {
		account.DisplayName = handle
	}

	if err := e.Accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			// A race surfaced the same condition the pre-checks watch for.
			return &Result{
				Outcome:   OutcomeRejected,
				Principal: p,
				Redirect:  e.CredentialsURL,
				Reject:    NewFlowError(CodeHandleTaken, "Handle or identity is already registered"),
			}, nil
		}
		return nil, err
	}

	slog.Info("credential account enrolled", "account", account.ID)
	return &Result{
		Outcome:   OutcomeEnrolled,
		Principal: DurablePrincipal(account, ProviderWellness),
		Account:   account,
		Redirect:  e.HomeURL,
	}, nil
}

// finalizeFederated creates the account for a fully-gated federated
// principal. A uniqueness race degrades to the login path instead of
// double-creating.
func (e *Enrollment) finalizeFederated(ctx context.Context, p *Principal) (*Result, error) {
	if p.Attributes == nil {
		// A principal without attributes cannot create an account; restart
		// from verification.
		return &Result{
			Outcome:   OutcomeVerificationPending,
			Principal: p,
			Redirect:  e.VerificationURL,
			Reject:    NewFlowError(CodeVerificationRequired, "Identity verification is required"),
		}, nil
	}

	now := e.Now()
	account := &Account{
		ID:          uuid.NewString(),
		Origin:      p.Provider,
		Email:       p.Email,
		Phone:       p.Attributes.Phone,
		LegalName:   p.Attributes.LegalName,
		BirthDate:   p.Attributes.BirthDate,
		Gender:      p.Attributes.Gender,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   now,
		LastLoginAt: now,
	}
	account.SetExternalID(p.Provider, p.ExternalID)
	if p.ProviderToken != nil {
		account.ProviderAccessToken = p.ProviderToken.AccessToken
		account.ProviderRefreshToken = p.ProviderToken.RefreshToken
	}

	if err := e.Accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			existing, lookupErr := e.Accounts.FindByExternalID(ctx, p.Provider, p.ExternalID)
			if lookupErr == nil {
				profile := &oagw.Profile{
					ProviderID:  p.ExternalID,
					Email:       p.Email,
					DisplayName: p.DisplayName,
					AvatarURL:   p.AvatarURL,
				}
				return e.Login.Federated(ctx, p.Provider, profile, existing)
			}
			// The conflict was on email or phone, not our external id: another
			// enrollment won the race between the guard and this create.
			return &Result{
				Outcome:      OutcomeRejected,
				ClearSession: true,
				Redirect:     e.RegisteredURL,
				Reject:       NewFlowError(CodeDuplicateID, "This identity is already registered"),
			}, nil
		}
		return nil, err
	}

	slog.Info("federated account enrolled", "account", account.ID, "provider", p.Provider)
	return &Result{
		Outcome:   OutcomeEnrolled,
		Principal: DurablePrincipal(account, p.Provider),
		Account:   account,
		Redirect:  e.HomeURL,
	}, nil
}

func (e *Enrollment) gatewayError(provider Provider) *Result {
	return &Result{
		Outcome:  OutcomeError,
		Redirect: e.ErrorURL,
		Reject: &FlowError{
			Code:     CodeGatewayError,
			Message:  "Login with the external provider failed, please try again",
			Provider: provider,
		},
	}
}

// verificationError leaves the principal unchanged so the step can be
// retried with a fresh transaction reference.
func (e *Enrollment) verificationError(p *Principal) *Result {
	return &Result{
		Outcome:   OutcomeError,
		Principal: p,
		Redirect:  e.VerificationURL,
		Reject:    NewFlowError(CodeGatewayError, "Identity verification failed, please try again"),
	}
}

func (e *Enrollment) unauthorized() *Result {
	return &Result{
		Outcome:  OutcomeRejected,
		Redirect: e.HomeURL,
		Reject:   NewFlowError(CodeUnauthorized, "No enrollment in progress"),
	}
}

func (e *Enrollment) serverError(msg string) *Result {
	return &Result{
		Outcome:  OutcomeError,
		Redirect: e.ErrorURL,
		Reject:   NewFlowError(CodeServerError, msg),
	}
}

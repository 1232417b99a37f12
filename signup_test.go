package wellnessid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/purelife/wellnessid/verify"
)

func newVerifier() *fakeVerifier {
	return &fakeVerifier{attrs: map[string]*verify.Attributes{
		"txn-1": adultAttrs(),
	}}
}

func TestFederatedSignupHappyPath(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	verifier := newVerifier()
	e := testEnrollment(accounts, verifier, now)

	// Callback with no session: fresh provisional, off to terms.
	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-1", nil)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending {
		t.Fatalf("Outcome = %v, want terms_pending", res.Outcome)
	}
	p := res.Principal
	if p == nil || !p.IsProvisional() || p.Provider != ProviderKakao {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.ProviderToken == nil || p.ProviderToken.AccessToken == "" {
		t.Error("provider token material should ride on the provisional principal")
	}

	// Terms.
	res, err = e.AgreeTerms(ctx, p)
	if err != nil {
		t.Fatalf("AgreeTerms() error = %v", err)
	}
	if res.Outcome != OutcomeVerificationPending {
		t.Fatalf("Outcome = %v, want verification_pending", res.Outcome)
	}
	p = res.Principal
	if !p.AgreedToTerms {
		t.Error("AgreedToTerms not set")
	}
	if !p.StepDeadline.Equal(now.Add(VerificationStepTTL)) {
		t.Errorf("StepDeadline = %v, want now+%v", p.StepDeadline, VerificationStepTTL)
	}

	// Verification: clean NEW finalizes the federated path on the spot.
	res, err = e.CompleteVerification(ctx, p, "txn-1")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeEnrolled {
		t.Fatalf("Outcome = %v (%+v), want enrolled", res.Outcome, res.Reject)
	}
	if res.Principal.IsProvisional() {
		t.Error("final principal should be durable")
	}
	if res.Principal.Attributes != nil {
		t.Error("durable principal must not carry verification attributes")
	}

	account, err := accounts.FindByExternalID(ctx, ProviderKakao, "kakao-1001")
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if account.Phone != "010-1234-2222" || account.LegalName != "Kim Jiwoo" {
		t.Errorf("verified attributes not stored: %+v", account)
	}
	if account.Origin != ProviderKakao {
		t.Errorf("Origin = %v, want kakao", account.Origin)
	}
	if account.ProviderAccessToken == "" {
		t.Error("provider token not persisted on the account")
	}
	if len(verifier.invalidated) != 1 || verifier.invalidated[0] != "txn-1" {
		t.Errorf("vendor record not invalidated: %v", verifier.invalidated)
	}
}

func TestFederatedCallbackResumes(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	e := testEnrollment(newMemAccountStore(), newVerifier(), now)

	resumed := &Principal{
		Ref:        ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:   ProviderKakao,
		ExternalID: "kakao-1001",
		Path:       PathFederated,
	}

	// Not yet agreed: back to terms, same principal.
	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-2", resumed)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending {
		t.Errorf("Outcome = %v, want terms_pending", res.Outcome)
	}
	if res.Principal != resumed {
		t.Error("resume should keep the existing principal")
	}

	// Agreed but unverified: straight to verification.
	resumed.AgreedToTerms = true
	res, err = e.HandleFederatedCallback(ctx, ProviderKakao, "code-3", resumed)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeVerificationPending {
		t.Errorf("Outcome = %v, want verification_pending", res.Outcome)
	}
}

// Returning from a different provider than the one mid-flow discards the
// stale principal and starts fresh.
func TestFederatedCallbackProviderSwitch(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	e := testEnrollment(newMemAccountStore(), newVerifier(), now)

	kakaoFlow := &Principal{
		Ref:           ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:      ProviderKakao,
		ExternalID:    "kakao-1001",
		Path:          PathFederated,
		AgreedToTerms: true,
	}
	res, err := e.HandleFederatedCallback(ctx, ProviderNaver, "code-4", kakaoFlow)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending {
		t.Fatalf("Outcome = %v, want terms_pending for the fresh flow", res.Outcome)
	}
	p := res.Principal
	if p.Provider != ProviderNaver || p.ExternalID != "naver-2002" {
		t.Errorf("fresh principal should be naver's, got %+v", p)
	}
	if p.AgreedToTerms {
		t.Error("terms agreement must not carry over from the discarded flow")
	}
}

func TestFederatedCallbackKnownAccountLogsIn(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	accounts.Create(ctx, &Account{
		ID:      "acc-1",
		Origin:  ProviderKakao,
		KakaoID: "kakao-1001",
		Email:   "old@example.com",
	})
	e := testEnrollment(accounts, newVerifier(), now)

	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-5", nil)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeLoggedIn {
		t.Fatalf("Outcome = %v, want logged_in", res.Outcome)
	}
	if res.Principal.Ref.Durable != "acc-1" {
		t.Errorf("Durable = %q, want acc-1", res.Principal.Ref.Durable)
	}

	// Profile refresh: the provider sent a new email.
	account, _ := accounts.FindByID(ctx, "acc-1")
	if account.Email != "jiwoo@example.com" {
		t.Errorf("Email = %q, want refreshed jiwoo@example.com", account.Email)
	}
	if !account.LastLoginAt.Equal(now) {
		t.Errorf("LastLoginAt = %v, want %v", account.LastLoginAt, now)
	}
}

func TestFederatedCallbackEmailConflict(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	accounts.Create(ctx, &Account{
		ID:     "acc-1",
		Origin: ProviderNaver,
		Email:  "jiwoo@example.com",
	})
	e := testEnrollment(accounts, newVerifier(), now)

	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-6", nil)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("Outcome = %v, want rejected", res.Outcome)
	}
	if res.Reject.Code != CodeAlreadyRegistered {
		t.Errorf("code = %q, want already_registered", res.Reject.Code)
	}
	if res.Reject.Provider != ProviderNaver {
		t.Errorf("Provider = %v, want naver (the existing account's origin)", res.Reject.Provider)
	}
	if res.Reject.MaskedID != "ji***@example.com" {
		t.Errorf("MaskedID = %q", res.Reject.MaskedID)
	}
	if res.Principal != nil {
		t.Error("rejection should not leave a principal behind")
	}
	if res.ClearSession {
		t.Error("an out-of-flow rejection must not end the caller's session")
	}
}

func TestFederatedCallbackGatewayFailure(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	e := testEnrollment(newMemAccountStore(), newVerifier(), now)
	e.Providers[ProviderKakao] = &fakeOAuthGateway{exchangeErr: errors.New("kaboom")}

	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-7", nil)
	if err != nil {
		t.Fatalf("gateway failures should be Results, not errors: %v", err)
	}
	if res.Outcome != OutcomeError {
		t.Fatalf("Outcome = %v, want error", res.Outcome)
	}
	if res.Reject.Code != CodeGatewayError {
		t.Errorf("code = %q, want gateway_error", res.Reject.Code)
	}
	if res.ClearSession {
		t.Error("a retriable gateway failure must not end the caller's session")
	}
}

func TestVerificationRequiresTermsFirst(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	verifier := newVerifier()
	e := testEnrollment(newMemAccountStore(), verifier, now)

	p := &Principal{
		Ref:      ProvisionalCredentialRef(now),
		Provider: ProviderWellness,
		Path:     PathCredential,
	}
	res, err := e.CompleteVerification(ctx, p, "txn-1")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending || res.Reject.Code != CodeTermsRequired {
		t.Errorf("got %v/%v, want terms_pending/terms_required", res.Outcome, res.Reject)
	}
	if verifier.retrieveCalls != 0 {
		t.Error("the gateway must not be called before the terms precondition holds")
	}
}

func TestVerificationStepDeadline(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	e := testEnrollment(newMemAccountStore(), newVerifier(), now)

	p := &Principal{
		Ref:           ProvisionalCredentialRef(now.Add(-time.Hour)),
		Provider:      ProviderWellness,
		Path:          PathCredential,
		AgreedToTerms: true,
		StepDeadline:  now.Add(-time.Minute),
	}
	res, err := e.CompleteVerification(ctx, p, "txn-1")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeVerificationPending || res.Reject.Code != CodeSessionExpired {
		t.Errorf("got %v/%v, want verification_pending/session_expired", res.Outcome, res.Reject)
	}
	if !res.Principal.StepDeadline.Equal(now.Add(VerificationStepTTL)) {
		t.Error("recovery should reopen the verification window")
	}
}

func TestVerificationUnderAge(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	verifier := &fakeVerifier{attrs: map[string]*verify.Attributes{
		"txn-kid": {LegalName: "Lee Haeun", Phone: "010-5555-6666", BirthDate: "20150601", Gender: "F"},
	}}
	e := testEnrollment(newMemAccountStore(), verifier, now)

	p := &Principal{
		Ref:           ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:      ProviderKakao,
		ExternalID:    "kakao-1001",
		Path:          PathFederated,
		AgreedToTerms: true,
		StepDeadline:  now.Add(VerificationStepTTL),
	}
	res, err := e.CompleteVerification(ctx, p, "txn-kid")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeRejected || res.Reject.Code != CodeUnderAge {
		t.Fatalf("got %v/%v, want rejected/under_14", res.Outcome, res.Reject)
	}
	if res.Principal == nil {
		t.Fatal("principal should survive so the user can see the notice")
	}
	if res.Principal.IdentityVerified || res.Principal.Attributes != nil {
		t.Error("under-age rejection must not leave verified state behind")
	}
}

func TestVerificationDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	accounts.Create(ctx, &Account{
		ID:     "acc-1",
		Origin: ProviderWellness,
		Handle: "jiwoo_k",
		Phone:  "010-1234-2222",
	})
	e := testEnrollment(accounts, newVerifier(), now)

	p := &Principal{
		Ref:           ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:      ProviderKakao,
		ExternalID:    "kakao-1001",
		Path:          PathFederated,
		AgreedToTerms: true,
		StepDeadline:  now.Add(VerificationStepTTL),
	}
	res, err := e.CompleteVerification(ctx, p, "txn-1")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeRejected || res.Reject.Code != CodeAlreadyRegistered {
		t.Fatalf("got %v/%v, want rejected/already_registered", res.Outcome, res.Reject)
	}
	if res.Reject.Provider != ProviderWellness || res.Reject.MaskedID != "ji***" {
		t.Errorf("rejection hint = %v/%q", res.Reject.Provider, res.Reject.MaskedID)
	}
	if res.Principal != nil || !res.ClearSession {
		t.Error("duplicate rejection should end the provisional session")
	}
}

func TestDirectSignupHappyPath(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	e := testEnrollment(accounts, newVerifier(), now)

	res, err := e.InitiateDirectSignup(ctx)
	if err != nil {
		t.Fatalf("InitiateDirectSignup() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending {
		t.Fatalf("Outcome = %v, want terms_pending", res.Outcome)
	}
	p := res.Principal
	if p.Path != PathCredential || p.Provider != ProviderWellness {
		t.Fatalf("unexpected principal %+v", p)
	}

	res, err = e.AgreeTerms(ctx, p)
	if err != nil {
		t.Fatalf("AgreeTerms() error = %v", err)
	}
	p = res.Principal

	res, err = e.CompleteVerification(ctx, p, "txn-1")
	if err != nil {
		t.Fatalf("CompleteVerification() error = %v", err)
	}
	if res.Outcome != OutcomeCredentialsPending {
		t.Fatalf("Outcome = %v (%+v), want credentials_pending", res.Outcome, res.Reject)
	}
	p = res.Principal
	if p.Attributes == nil {
		t.Fatal("attributes must ride the principal into the credentials step")
	}

	res, err = e.CompleteCredentials(ctx, p, "jiwoo_k", "s3cret-pass")
	if err != nil {
		t.Fatalf("CompleteCredentials() error = %v", err)
	}
	if res.Outcome != OutcomeEnrolled {
		t.Fatalf("Outcome = %v (%+v), want enrolled", res.Outcome, res.Reject)
	}
	if res.Principal.Attributes != nil {
		t.Error("durable principal must not carry verification attributes")
	}

	account, err := accounts.FindByHandle(ctx, "jiwoo_k")
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if account.Origin != ProviderWellness {
		t.Errorf("Origin = %v, want wellness", account.Origin)
	}
	if !CheckPassword(account.PasswordDigest, "s3cret-pass") {
		t.Error("stored digest does not verify the password")
	}
	if CheckPassword(account.PasswordDigest, "wrong-pass1") {
		t.Error("stored digest verifies a wrong password")
	}
	if account.Phone != "010-1234-2222" {
		t.Errorf("verified phone not stored: %q", account.Phone)
	}
}

func TestCompleteCredentialsPreconditions(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	e := testEnrollment(newMemAccountStore(), newVerifier(), now)

	// No terms yet: restart at terms.
	p := &Principal{
		Ref:      ProvisionalCredentialRef(now),
		Provider: ProviderWellness,
		Path:     PathCredential,
	}
	res, err := e.CompleteCredentials(ctx, p, "jiwoo_k", "s3cret-pass")
	if err != nil {
		t.Fatalf("CompleteCredentials() error = %v", err)
	}
	if res.Outcome != OutcomeTermsPending || res.Reject.Code != CodeTermsRequired {
		t.Errorf("got %v/%v, want terms_pending/terms_required", res.Outcome, res.Reject)
	}

	// Terms but no verification: restart at verification.
	p.AgreedToTerms = true
	res, err = e.CompleteCredentials(ctx, p, "jiwoo_k", "s3cret-pass")
	if err != nil {
		t.Fatalf("CompleteCredentials() error = %v", err)
	}
	if res.Outcome != OutcomeVerificationPending || res.Reject.Code != CodeVerificationRequired {
		t.Errorf("got %v/%v, want verification_pending/verification_required", res.Outcome, res.Reject)
	}

	// A federated principal has no business at the credentials step.
	fed := &Principal{
		Ref:        ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:   ProviderKakao,
		ExternalID: "kakao-1001",
		Path:       PathFederated,
	}
	res, err = e.CompleteCredentials(ctx, fed, "jiwoo_k", "s3cret-pass")
	if err != nil {
		t.Fatalf("CompleteCredentials() error = %v", err)
	}
	if res.Outcome != OutcomeRejected || res.Reject.Code != CodeUnauthorized {
		t.Errorf("got %v/%v, want rejected/unauthorized", res.Outcome, res.Reject)
	}
}

func TestCompleteCredentialsPolicy(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	accounts.Create(ctx, &Account{ID: "acc-1", Handle: "taken_handle", Phone: "010-0000-0000"})
	e := testEnrollment(accounts, newVerifier(), now)

	verified := &Principal{
		Ref:              ProvisionalCredentialRef(now),
		Provider:         ProviderWellness,
		Path:             PathCredential,
		AgreedToTerms:    true,
		IdentityVerified: true,
		Attributes:       adultAttrs(),
	}

	tests := []struct {
		name     string
		handle   string
		password string
		wantCode string
	}{
		{"handle too short", "ab", "s3cret-pass", CodeInvalidHandle},
		{"handle bad characters", "ji woo!", "s3cret-pass", CodeInvalidHandle},
		{"password too short", "jiwoo_k", "a1b2c3", CodeWeakPassword},
		{"password without digits", "jiwoo_k", "onlyletters", CodeWeakPassword},
		{"password without letters", "jiwoo_k", "1234567890", CodeWeakPassword},
		{"handle taken", "taken_handle", "s3cret-pass", CodeHandleTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.CompleteCredentials(ctx, verified, tt.handle, tt.password)
			if err != nil {
				t.Fatalf("CompleteCredentials() error = %v", err)
			}
			if res.Outcome != OutcomeRejected {
				t.Fatalf("Outcome = %v, want rejected", res.Outcome)
			}
			if res.Reject.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.Reject.Code, tt.wantCode)
			}
			if res.Principal != verified {
				t.Error("policy rejection should keep the principal for a retry")
			}
		})
	}
}

// Two finalizations racing on the same external id: the loser's create
// conflict degrades into a login on the winner's account.
func TestFederatedFinalizeRaceDegradesToLogin(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	e := testEnrollment(accounts, newVerifier(), now)

	p := &Principal{
		Ref:              ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:         ProviderKakao,
		ExternalID:       "kakao-1001",
		Email:            "jiwoo@example.com",
		Path:             PathFederated,
		AgreedToTerms:    true,
		IdentityVerified: true,
		Attributes:       adultAttrs(),
	}

	first, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-8", p)
	if err != nil {
		t.Fatalf("first finalize error = %v", err)
	}
	if first.Outcome != OutcomeEnrolled {
		t.Fatalf("first Outcome = %v, want enrolled", first.Outcome)
	}

	// The same resumed principal replayed (double-submit, second tab).
	second, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-9", p)
	if err != nil {
		t.Fatalf("second finalize error = %v", err)
	}
	if second.Outcome != OutcomeLoggedIn {
		t.Fatalf("second Outcome = %v, want logged_in", second.Outcome)
	}
	if second.Principal.Ref.Durable != first.Principal.Ref.Durable {
		t.Error("replay should land on the same account")
	}
}

// A create conflict that is not on our external id (another enrollment took
// the phone between the guard and the create) cannot degrade to login; it is
// reported as a duplicate identity and the provisional session ends.
func TestFederatedFinalizeConflictOnPhone(t *testing.T) {
	ctx := context.Background()
	now := date(2026, 8, 31)
	accounts := newMemAccountStore()
	accounts.Create(ctx, &Account{
		ID:      "acc-other",
		Origin:  ProviderNaver,
		NaverID: "naver-2002",
		Phone:   "010-1234-2222",
	})
	e := testEnrollment(accounts, newVerifier(), now)

	p := &Principal{
		Ref:              ProvisionalFederatedRef(ProviderKakao, "kakao-1001", now),
		Provider:         ProviderKakao,
		ExternalID:       "kakao-1001",
		Path:             PathFederated,
		AgreedToTerms:    true,
		IdentityVerified: true,
		Attributes:       adultAttrs(),
	}
	res, err := e.HandleFederatedCallback(ctx, ProviderKakao, "code-10", p)
	if err != nil {
		t.Fatalf("HandleFederatedCallback() error = %v", err)
	}
	if res.Outcome != OutcomeRejected || res.Reject.Code != CodeDuplicateID {
		t.Fatalf("got %v/%v, want rejected/duplicate_id", res.Outcome, res.Reject)
	}
	if res.Principal != nil || !res.ClearSession {
		t.Error("the losing enrollment's session should end")
	}
}

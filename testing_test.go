package wellnessid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	oagw "github.com/purelife/wellnessid/oauth2"
	"github.com/purelife/wellnessid/verify"
)

// memAccountStore is an in-memory AccountStore for tests with the same
// constraint semantics as the real backends.
type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*Account)}
}

func (s *memAccountStore) find(match func(*Account) bool) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if match(account) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccountStore) FindByExternalID(ctx context.Context, provider Provider, externalID string) (*Account, error) {
	if externalID == "" {
		return nil, ErrAccountNotFound
	}
	return s.find(func(a *Account) bool { return a.ExternalID(provider) == externalID })
}

func (s *memAccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, ErrAccountNotFound
	}
	return s.find(func(a *Account) bool { return a.Email == email })
}

func (s *memAccountStore) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	if handle == "" {
		return nil, ErrAccountNotFound
	}
	return s.find(func(a *Account) bool { return a.Handle == handle })
}

func (s *memAccountStore) FindByPhone(ctx context.Context, phone string) (*Account, error) {
	if phone == "" {
		return nil, ErrAccountNotFound
	}
	return s.find(func(a *Account) bool { return a.Phone == phone })
}

func (s *memAccountStore) FindByID(ctx context.Context, id string) (*Account, error) {
	return s.find(func(a *Account) bool { return a.ID == id })
}

func (s *memAccountStore) Create(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.ID == account.ID ||
			(account.KakaoID != "" && existing.KakaoID == account.KakaoID) ||
			(account.NaverID != "" && existing.NaverID == account.NaverID) ||
			(account.Handle != "" && existing.Handle == account.Handle) ||
			(account.Email != "" && existing.Email == account.Email) ||
			(account.Phone != "" && existing.Phone == account.Phone) {
			return ErrAccountExists
		}
	}
	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

func (s *memAccountStore) Update(ctx context.Context, id string, update AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if update.Email != nil {
		account.Email = *update.Email
	}
	if update.DisplayName != nil {
		account.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		account.AvatarURL = *update.AvatarURL
	}
	if update.ProviderAccessToken != nil {
		account.ProviderAccessToken = *update.ProviderAccessToken
	}
	if update.ProviderRefreshToken != nil {
		account.ProviderRefreshToken = *update.ProviderRefreshToken
	}
	if update.PasswordDigest != nil {
		account.PasswordDigest = *update.PasswordDigest
	}
	if update.RequireRotation != nil {
		account.RequireRotation = *update.RequireRotation
	}
	return nil
}

func (s *memAccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.LastLoginAt = at
	return nil
}

// memLinkTokenStore is an in-memory LinkTokenStore for tests.
type memLinkTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*LinkToken
}

func newMemLinkTokenStore() *memLinkTokenStore {
	return &memLinkTokenStore{tokens: make(map[string]*LinkToken)}
}

func (s *memLinkTokenStore) SaveToken(ctx context.Context, token *LinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.Token] = &copied
	return nil
}

func (s *memLinkTokenStore) ConsumeToken(ctx context.Context, raw string) (*LinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[raw]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if !token.UsedAt.IsZero() {
		return nil, ErrTokenUsed
	}
	token.UsedAt = time.Now()
	copied := *token
	return &copied, nil
}

// fakeOAuthGateway is a canned oauth2 gateway for tests.
type fakeOAuthGateway struct {
	profile     *oagw.Profile
	exchangeErr error
	profileErr  error
}

func (g *fakeOAuthGateway) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (g *fakeOAuthGateway) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	if g.exchangeErr != nil {
		return nil, g.exchangeErr
	}
	return &oauth2.Token{AccessToken: "provider-access-" + code, RefreshToken: "provider-refresh"}, nil
}

func (g *fakeOAuthGateway) FetchProfile(ctx context.Context, token *oauth2.Token) (*oagw.Profile, error) {
	if g.profileErr != nil {
		return nil, g.profileErr
	}
	copied := *g.profile
	return &copied, nil
}

// fakeVerifier hands out canned attributes keyed by transaction ref.
type fakeVerifier struct {
	attrs         map[string]*verify.Attributes
	tokenErr      error
	retrieveErr   error
	retrieveCalls int
	invalidated   []string
}

func (v *fakeVerifier) AcquireAccessToken(ctx context.Context) (string, error) {
	if v.tokenErr != nil {
		return "", v.tokenErr
	}
	return "verify-token", nil
}

func (v *fakeVerifier) RetrieveAttributes(ctx context.Context, accessToken, transactionRef string) (*verify.Attributes, error) {
	v.retrieveCalls++
	if v.retrieveErr != nil {
		return nil, v.retrieveErr
	}
	attrs, ok := v.attrs[transactionRef]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %q", transactionRef)
	}
	copied := *attrs
	return &copied, nil
}

func (v *fakeVerifier) Invalidate(ctx context.Context, accessToken, transactionRef string) error {
	v.invalidated = append(v.invalidated, transactionRef)
	return nil
}

// adultAttrs returns attributes for someone comfortably over the age floor.
func adultAttrs() *verify.Attributes {
	return &verify.Attributes{
		LegalName: "Kim Jiwoo",
		Phone:     "010-1234-2222",
		BirthDate: "19900315",
		Gender:    "F",
	}
}

// testEnrollment wires an Enrollment with fakes and a fixed clock.
func testEnrollment(accounts *memAccountStore, verifier *fakeVerifier, now time.Time) *Enrollment {
	e := &Enrollment{
		Accounts: accounts,
		Providers: map[Provider]oagw.Gateway{
			ProviderKakao: &fakeOAuthGateway{profile: &oagw.Profile{
				ProviderID:  "kakao-1001",
				Email:       "jiwoo@example.com",
				DisplayName: "Jiwoo",
			}},
			ProviderNaver: &fakeOAuthGateway{profile: &oagw.Profile{
				ProviderID:  "naver-2002",
				Email:       "jiwoo@naver.example",
				DisplayName: "JW",
			}},
		},
		Verifier:   verifier,
		LinkTokens: newMemLinkTokenStore(),
		Now:        func() time.Time { return now },
	}
	return e.EnsureDefaults()
}

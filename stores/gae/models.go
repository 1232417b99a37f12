//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	wid "github.com/purelife/wellnessid"
)

// Kind constants for Datastore entities
const (
	KindAccount     = "Account"
	KindReservation = "Reservation"
	KindLinkToken   = "LinkToken"
)

// AccountEntity is the Datastore representation of an account.
type AccountEntity struct {
	Key *datastore.Key `datastore:"__key__"`

	Origin  string `datastore:"origin"`
	KakaoID string `datastore:"kakao_id"`
	NaverID string `datastore:"naver_id"`
	Handle  string `datastore:"handle"`
	Email   string `datastore:"email"`
	Phone   string `datastore:"phone"`

	LegalName string `datastore:"legal_name,noindex"`
	BirthDate string `datastore:"birth_date,noindex"`
	Gender    string `datastore:"gender,noindex"`

	DisplayName string `datastore:"display_name,noindex"`
	AvatarURL   string `datastore:"avatar_url,noindex"`

	PasswordDigest       string `datastore:"password_digest,noindex"`
	ProviderAccessToken  string `datastore:"provider_access_token,noindex"`
	ProviderRefreshToken string `datastore:"provider_refresh_token,noindex"`

	Locked          bool `datastore:"locked"`
	RequireRotation bool `datastore:"require_rotation"`

	CreatedAt   time.Time `datastore:"created_at"`
	LastLoginAt time.Time `datastore:"last_login_at"`
}

// ReservationEntity pins a unique value to an account. Its key name is
// "<kind>:<value>"; existence of the entity IS the constraint.
type ReservationEntity struct {
	AccountID string    `datastore:"account_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

// LinkTokenEntity is the Datastore representation of a link token.
type LinkTokenEntity struct {
	AccountID string    `datastore:"account_id"`
	Provider  string    `datastore:"provider"`
	CreatedAt time.Time `datastore:"created_at"`
	ExpiresAt time.Time `datastore:"expires_at"`
	UsedAt    time.Time `datastore:"used_at"`
}

func (e *AccountEntity) ToAccount(id string) *wid.Account {
	return &wid.Account{
		ID:                   id,
		Origin:               wid.Provider(e.Origin),
		KakaoID:              e.KakaoID,
		NaverID:              e.NaverID,
		Handle:               e.Handle,
		Email:                e.Email,
		Phone:                e.Phone,
		LegalName:            e.LegalName,
		BirthDate:            e.BirthDate,
		Gender:               e.Gender,
		DisplayName:          e.DisplayName,
		AvatarURL:            e.AvatarURL,
		PasswordDigest:       e.PasswordDigest,
		ProviderAccessToken:  e.ProviderAccessToken,
		ProviderRefreshToken: e.ProviderRefreshToken,
		Locked:               e.Locked,
		RequireRotation:      e.RequireRotation,
		CreatedAt:            e.CreatedAt,
		LastLoginAt:          e.LastLoginAt,
	}
}

func AccountToEntity(a *wid.Account) *AccountEntity {
	return &AccountEntity{
		Origin:               string(a.Origin),
		KakaoID:              a.KakaoID,
		NaverID:              a.NaverID,
		Handle:               a.Handle,
		Email:                a.Email,
		Phone:                a.Phone,
		LegalName:            a.LegalName,
		BirthDate:            a.BirthDate,
		Gender:               a.Gender,
		DisplayName:          a.DisplayName,
		AvatarURL:            a.AvatarURL,
		PasswordDigest:       a.PasswordDigest,
		ProviderAccessToken:  a.ProviderAccessToken,
		ProviderRefreshToken: a.ProviderRefreshToken,
		Locked:               a.Locked,
		RequireRotation:      a.RequireRotation,
		CreatedAt:            a.CreatedAt,
		LastLoginAt:          a.LastLoginAt,
	}
}

func (e *LinkTokenEntity) ToLinkToken(token string) *wid.LinkToken {
	return &wid.LinkToken{
		Token:     token,
		AccountID: e.AccountID,
		Provider:  wid.Provider(e.Provider),
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		UsedAt:    e.UsedAt,
	}
}

//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	wid "github.com/purelife/wellnessid"
)

// AccountModel is the GORM model for accounts. Unique columns are nullable so
// absent values never collide on the unique indexes.
type AccountModel struct {
	ID     string `gorm:"primaryKey;size:64"`
	Origin string `gorm:"size:16"`

	KakaoID *string `gorm:"size:128;uniqueIndex"`
	NaverID *string `gorm:"size:128;uniqueIndex"`
	Handle  *string `gorm:"size:64;uniqueIndex"`
	Email   *string `gorm:"size:320;uniqueIndex"`
	Phone   *string `gorm:"size:32;uniqueIndex"`

	LegalName string `gorm:"size:128"`
	BirthDate string `gorm:"size:8"`
	Gender    string `gorm:"size:8"`

	DisplayName string `gorm:"size:128"`
	AvatarURL   string `gorm:"size:512"`

	PasswordDigest       string `gorm:"size:128"`
	ProviderAccessToken  string `gorm:"size:512"`
	ProviderRefreshToken string `gorm:"size:512"`

	Locked          bool `gorm:"default:false"`
	RequireRotation bool `gorm:"default:false"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	LastLoginAt time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

// LinkTokenModel is the GORM model for one-shot provider link tokens.
type LinkTokenModel struct {
	Token     string `gorm:"primaryKey;size:64"`
	AccountID string `gorm:"size:64;index"`
	Provider  string `gorm:"size:16"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	UsedAt    *time.Time
}

func (LinkTokenModel) TableName() string {
	return "link_tokens"
}

func (m *AccountModel) ToAccount() *wid.Account {
	return &wid.Account{
		ID:                   m.ID,
		Origin:               wid.Provider(m.Origin),
		KakaoID:              deref(m.KakaoID),
		NaverID:              deref(m.NaverID),
		Handle:               deref(m.Handle),
		Email:                deref(m.Email),
		Phone:                deref(m.Phone),
		LegalName:            m.LegalName,
		BirthDate:            m.BirthDate,
		Gender:               m.Gender,
		DisplayName:          m.DisplayName,
		AvatarURL:            m.AvatarURL,
		PasswordDigest:       m.PasswordDigest,
		ProviderAccessToken:  m.ProviderAccessToken,
		ProviderRefreshToken: m.ProviderRefreshToken,
		Locked:               m.Locked,
		RequireRotation:      m.RequireRotation,
		CreatedAt:            m.CreatedAt,
		LastLoginAt:          m.LastLoginAt,
	}
}

func AccountToModel(a *wid.Account) *AccountModel {
	return &AccountModel{
		ID:                   a.ID,
		Origin:               string(a.Origin),
		KakaoID:              nullable(a.KakaoID),
		NaverID:              nullable(a.NaverID),
		Handle:               nullable(a.Handle),
		Email:                nullable(a.Email),
		Phone:                nullable(a.Phone),
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

func (m *LinkTokenModel) ToLinkToken() *wid.LinkToken {
	token := &wid.LinkToken{
		Token:     m.Token,
		AccountID: m.AccountID,
		Provider:  wid.Provider(m.Provider),
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
	if m.UsedAt != nil {
		token.UsedAt = *m.UsedAt
	}
	return token
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

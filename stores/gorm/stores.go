//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	wid "github.com/purelife/wellnessid"
)

// AutoMigrate runs database migrations for all wellnessid tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&LinkTokenModel{},
	)
}

// AccountStore implements wid.AccountStore using GORM. Uniqueness lives in
// the database's unique indexes; a race between two creates resolves to one
// winner and one wid.ErrAccountExists.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) FindByExternalID(ctx context.Context, provider wid.Provider, externalID string) (*wid.Account, error) {
	var column string
	switch provider {
	case wid.ProviderKakao:
		column = "kakao_id = ?"
	case wid.ProviderNaver:
		column = "naver_id = ?"
	default:
		return nil, wid.ErrAccountNotFound
	}
	return s.findOne(ctx, column, externalID)
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*wid.Account, error) {
	return s.findOne(ctx, "email = ?", email)
}

func (s *AccountStore) FindByHandle(ctx context.Context, handle string) (*wid.Account, error) {
	return s.findOne(ctx, "handle = ?", handle)
}

func (s *AccountStore) FindByPhone(ctx context.Context, phone string) (*wid.Account, error) {
	return s.findOne(ctx, "phone = ?", phone)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*wid.Account, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *AccountStore) findOne(ctx context.Context, query string, arg string) (*wid.Account, error) {
	if arg == "" {
		return nil, wid.ErrAccountNotFound
	}
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wid.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) Create(ctx context.Context, account *wid.Account) error {
	model := AccountToModel(account)
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateErr(err) {
			return wid.ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *AccountStore) Update(ctx context.Context, id string, update wid.AccountUpdate) error {
	values := map[string]any{}
	if update.Email != nil {
		values["email"] = nullable(*update.Email)
	}
	if update.DisplayName != nil {
		values["display_name"] = *update.DisplayName
	}
	if update.AvatarURL != nil {
		values["avatar_url"] = *update.AvatarURL
	}
	if update.ProviderAccessToken != nil {
		values["provider_access_token"] = *update.ProviderAccessToken
	}
	if update.ProviderRefreshToken != nil {
		values["provider_refresh_token"] = *update.ProviderRefreshToken
	}
	if update.PasswordDigest != nil {
		values["password_digest"] = *update.PasswordDigest
	}
	if update.RequireRotation != nil {
		values["require_rotation"] = *update.RequireRotation
	}
	if len(values) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AccountModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		if isDuplicateErr(res.Error) {
			return wid.ErrAccountExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return wid.ErrAccountNotFound
	}
	return nil
}

func (s *AccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}

// isDuplicateErr recognizes unique-constraint violations across the drivers
// gorm translates and the ones it does not.
func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// LinkTokenStore implements wid.LinkTokenStore using GORM.
type LinkTokenStore struct {
	db *gorm.DB
}

func NewLinkTokenStore(db *gorm.DB) *LinkTokenStore {
	return &LinkTokenStore{db: db}
}

func (s *LinkTokenStore) SaveToken(ctx context.Context, token *wid.LinkToken) error {
	model := &LinkTokenModel{
		Token:     token.Token,
		AccountID: token.AccountID,
		Provider:  string(token.Provider),
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *LinkTokenStore) ConsumeToken(ctx context.Context, raw string) (*wid.LinkToken, error) {
	var consumed *wid.LinkToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model LinkTokenModel
		if err := tx.First(&model, "token = ?", raw).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return wid.ErrTokenNotFound
			}
			return err
		}
		if model.UsedAt != nil {
			return wid.ErrTokenUsed
		}
		now := time.Now()
		if err := tx.Model(&model).Update("used_at", now).Error; err != nil {
			return err
		}
		consumed = model.ToLinkToken()
		consumed.UsedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// CleanupExpiredTokens deletes link tokens past their expiry.
func (s *LinkTokenStore) CleanupExpiredTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Delete(&LinkTokenModel{}, "expires_at < ?", time.Now()).Error
}

//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	wid "github.com/purelife/wellnessid"
)

// reservation kinds, matching the unique columns of the relational backend
const (
	resKakao  = "kakao"
	resNaver  = "naver"
	resHandle = "handle"
	resEmail  = "email"
	resPhone  = "phone"
)

// AccountStore implements wid.AccountStore using Google Cloud Datastore.
// Uniqueness is enforced with Reservation entities created in the same
// transaction as the account: the second writer of a value finds the
// reservation and loses.
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{client: client, namespace: namespace}
}

func (s *AccountStore) key(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *AccountStore) reservationKey(kind, value string) *datastore.Key {
	return s.key(KindReservation, kind+":"+value)
}

func reservations(account *wid.Account) [][2]string {
	var entries [][2]string
	add := func(kind, value string) {
		if value != "" {
			entries = append(entries, [2]string{kind, value})
		}
	}
	add(resKakao, account.KakaoID)
	add(resNaver, account.NaverID)
	add(resHandle, account.Handle)
	add(resEmail, account.Email)
	add(resPhone, account.Phone)
	return entries
}

func (s *AccountStore) Create(ctx context.Context, account *wid.Account) error {
	accountKey := s.key(KindAccount, account.ID)
	entries := reservations(account)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		if err := tx.Get(accountKey, &existing); err == nil {
			return wid.ErrAccountExists
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		now := time.Now()
		for _, entry := range entries {
			resKey := s.reservationKey(entry[0], entry[1])
			var res ReservationEntity
			if err := tx.Get(resKey, &res); err == nil {
				return wid.ErrAccountExists
			} else if err != datastore.ErrNoSuchEntity {
				return err
			}
			if _, err := tx.Put(resKey, &ReservationEntity{AccountID: account.ID, CreatedAt: now}); err != nil {
				return err
			}
		}

		_, err := tx.Put(accountKey, AccountToEntity(account))
		return err
	})
	return err
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*wid.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.key(KindAccount, id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, wid.ErrAccountNotFound
		}
		return nil, err
	}
	return entity.ToAccount(id), nil
}

func (s *AccountStore) FindByExternalID(ctx context.Context, provider wid.Provider, externalID string) (*wid.Account, error) {
	switch provider {
	case wid.ProviderKakao:
		return s.findByReservation(ctx, resKakao, externalID)
	case wid.ProviderNaver:
		return s.findByReservation(ctx, resNaver, externalID)
	}
	return nil, wid.ErrAccountNotFound
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*wid.Account, error) {
	return s.findByReservation(ctx, resEmail, email)
}

func (s *AccountStore) FindByHandle(ctx context.Context, handle string) (*wid.Account, error) {
	return s.findByReservation(ctx, resHandle, handle)
}

func (s *AccountStore) FindByPhone(ctx context.Context, phone string) (*wid.Account, error) {
	return s.findByReservation(ctx, resPhone, phone)
}

func (s *AccountStore) findByReservation(ctx context.Context, kind, value string) (*wid.Account, error) {
	if value == "" {
		return nil, wid.ErrAccountNotFound
	}
	var res ReservationEntity
	if err := s.client.Get(ctx, s.reservationKey(kind, value), &res); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, wid.ErrAccountNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, res.AccountID)
}

func (s *AccountStore) Update(ctx context.Context, id string, update wid.AccountUpdate) error {
	accountKey := s.key(KindAccount, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(accountKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return wid.ErrAccountNotFound
			}
			return err
		}

		if update.Email != nil && *update.Email != entity.Email {
			if err := s.moveReservation(tx, resEmail, entity.Email, *update.Email, id); err != nil {
				return err
			}
			entity.Email = *update.Email
		}
		if update.DisplayName != nil {
			entity.DisplayName = *update.DisplayName
		}
		if update.AvatarURL != nil {
			entity.AvatarURL = *update.AvatarURL
		}
		if update.ProviderAccessToken != nil {
			entity.ProviderAccessToken = *update.ProviderAccessToken
		}
		if update.ProviderRefreshToken != nil {
			entity.ProviderRefreshToken = *update.ProviderRefreshToken
		}
		if update.PasswordDigest != nil {
			entity.PasswordDigest = *update.PasswordDigest
		}
		if update.RequireRotation != nil {
			entity.RequireRotation = *update.RequireRotation
		}

		_, err := tx.Put(accountKey, &entity)
		return err
	})
	return err
}

func (s *AccountStore) moveReservation(tx *datastore.Transaction, kind, oldValue, newValue, id string) error {
	if newValue != "" {
		resKey := s.reservationKey(kind, newValue)
		var res ReservationEntity
		if err := tx.Get(resKey, &res); err == nil {
			if res.AccountID != id {
				return wid.ErrAccountExists
			}
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}
		if _, err := tx.Put(resKey, &ReservationEntity{AccountID: id, CreatedAt: time.Now()}); err != nil {
			return err
		}
	}
	if oldValue != "" {
		if err := tx.Delete(s.reservationKey(kind, oldValue)); err != nil {
			return err
		}
	}
	return nil
}

func (s *AccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	accountKey := s.key(KindAccount, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(accountKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return wid.ErrAccountNotFound
			}
			return err
		}
		entity.LastLoginAt = at
		_, err := tx.Put(accountKey, &entity)
		return err
	})
	return err
}

// LinkTokenStore implements wid.LinkTokenStore using Google Cloud Datastore.
type LinkTokenStore struct {
	client    *datastore.Client
	namespace string
}

func NewLinkTokenStore(client *datastore.Client, namespace string) *LinkTokenStore {
	return &LinkTokenStore{client: client, namespace: namespace}
}

func (s *LinkTokenStore) key(token string) *datastore.Key {
	key := datastore.NameKey(KindLinkToken, token, nil)
	key.Namespace = s.namespace
	return key
}

func (s *LinkTokenStore) SaveToken(ctx context.Context, token *wid.LinkToken) error {
	entity := &LinkTokenEntity{
		AccountID: token.AccountID,
		Provider:  string(token.Provider),
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}
	_, err := s.client.Put(ctx, s.key(token.Token), entity)
	return err
}

func (s *LinkTokenStore) ConsumeToken(ctx context.Context, raw string) (*wid.LinkToken, error) {
	tokenKey := s.key(raw)
	var consumed *wid.LinkToken
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity LinkTokenEntity
		if err := tx.Get(tokenKey, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return wid.ErrTokenNotFound
			}
			return err
		}
		if !entity.UsedAt.IsZero() {
			return wid.ErrTokenUsed
		}
		entity.UsedAt = time.Now()
		if _, err := tx.Put(tokenKey, &entity); err != nil {
			return err
		}
		consumed = entity.ToLinkToken(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// CleanupExpiredTokens deletes link tokens past their expiry.
func (s *LinkTokenStore) CleanupExpiredTokens(ctx context.Context) error {
	query := datastore.NewQuery(KindLinkToken).
		Namespace(s.namespace).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()

	it := s.client.Run(ctx, query)
	var keys []*datastore.Key
	for {
		key, err := it.Next(nil)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to scan expired tokens: %w", err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}

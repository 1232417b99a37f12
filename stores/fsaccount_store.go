// Package stores provides the filesystem-backed account and link-token
// stores: JSON files with index files for the unique columns. Suitable for
// development and tests; production deployments use the gorm or gae
// backends.
package stores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	wid "github.com/purelife/wellnessid"
)

// index directories, one per unique column
const (
	idxKakao  = "kakao"
	idxNaver  = "naver"
	idxHandle = "handle"
	idxEmail  = "email"
	idxPhone  = "phone"
)

// FSAccountStore stores accounts as JSON files. Each unique value owns an
// index file created with O_EXCL, so the constraint holds even when two
// processes race: the second create loses at the filesystem level.
type FSAccountStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSAccountStore(storagePath string) *FSAccountStore {
	return &FSAccountStore{StoragePath: storagePath}
}

func (s *FSAccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", id+".json")
}

func (s *FSAccountStore) indexPath(kind, value string) string {
	// Values are user-supplied; encode so they are filesystem-safe.
	name := base64.RawURLEncoding.EncodeToString([]byte(value))
	return filepath.Join(s.StoragePath, "index", kind, name+".json")
}

// indexEntries lists the unique (kind, value) pairs an account occupies.
func indexEntries(account *wid.Account) [][2]string {
	var entries [][2]string
	add := func(kind, value string) {
		if value != "" {
			entries = append(entries, [2]string{kind, value})
		}
	}
	add(idxKakao, account.KakaoID)
	add(idxNaver, account.NaverID)
	add(idxHandle, account.Handle)
	add(idxEmail, account.Email)
	add(idxPhone, account.Phone)
	return entries
}

func (s *FSAccountStore) Create(ctx context.Context, account *wid.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := indexEntries(account)
	var claimed []string
	rollback := func() {
		for _, path := range claimed {
			os.Remove(path)
		}
	}

	for _, entry := range entries {
		path := s.indexPath(entry[0], entry[1])
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			rollback()
			return err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			rollback()
			if os.IsExist(err) {
				return wid.ErrAccountExists
			}
			return err
		}
		claimed = append(claimed, path)
		data, _ := json.Marshal(map[string]string{"account_id": account.ID})
		if _, err := f.Write(data); err != nil {
			f.Close()
			rollback()
			return err
		}
		if err := f.Close(); err != nil {
			rollback()
			return err
		}
	}

	if err := s.save(account); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *FSAccountStore) save(account *wid.Account) error {
	path := s.accountPath(account.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(newFSRecord(account), "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *FSAccountStore) FindByID(ctx context.Context, id string) (*wid.Account, error) {
	return s.load(id)
}

func (s *FSAccountStore) FindByExternalID(ctx context.Context, provider wid.Provider, externalID string) (*wid.Account, error) {
	switch provider {
	case wid.ProviderKakao:
		return s.findByIndex(idxKakao, externalID)
	case wid.ProviderNaver:
		return s.findByIndex(idxNaver, externalID)
	}
	return nil, wid.ErrAccountNotFound
}

func (s *FSAccountStore) FindByEmail(ctx context.Context, email string) (*wid.Account, error) {
	return s.findByIndex(idxEmail, email)
}

func (s *FSAccountStore) FindByHandle(ctx context.Context, handle string) (*wid.Account, error) {
	return s.findByIndex(idxHandle, handle)
}

func (s *FSAccountStore) FindByPhone(ctx context.Context, phone string) (*wid.Account, error) {
	return s.findByIndex(idxPhone, phone)
}

func (s *FSAccountStore) findByIndex(kind, value string) (*wid.Account, error) {
	if value == "" {
		return nil, wid.ErrAccountNotFound
	}
	data, err := os.ReadFile(s.indexPath(kind, value))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wid.ErrAccountNotFound
		}
		return nil, err
	}
	var entry struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt index entry %s/%s: %w", kind, value, err)
	}
	return s.load(entry.AccountID)
}

func (s *FSAccountStore) load(id string) (*wid.Account, error) {
	data, err := os.ReadFile(s.accountPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wid.ErrAccountNotFound
		}
		return nil, err
	}
	var record fsRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return record.account(), nil
}

func (s *FSAccountStore) Update(ctx context.Context, id string, update wid.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.load(id)
	if err != nil {
		return err
	}

	if update.Email != nil && *update.Email != account.Email {
		if err := s.moveIndex(idxEmail, account.Email, *update.Email, id); err != nil {
			return err
		}
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

	return s.save(account)
}

// moveIndex re-points a unique value from old to new, claiming the new value
// first so a conflict leaves the old entry intact.
func (s *FSAccountStore) moveIndex(kind, oldValue, newValue, id string) error {
	if newValue != "" {
		path := s.indexPath(kind, newValue)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if os.IsExist(err) {
				return wid.ErrAccountExists
			}
			return err
		}
		data, _ := json.Marshal(map[string]string{"account_id": id})
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if oldValue != "" {
		os.Remove(s.indexPath(kind, oldValue))
	}
	return nil
}

func (s *FSAccountStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.load(id)
	if err != nil {
		return err
	}
	account.LastLoginAt = at
	return s.save(account)
}

// fsRecord is the on-disk shape of an account. The credential fields are
// excluded from the account's own JSON tags but still have to round-trip
// through the file, so the record carries them explicitly.
type fsRecord struct {
	wid.Account
	StoredPasswordDigest       string `json:"password_digest,omitempty"`
	StoredProviderAccessToken  string `json:"provider_access_token,omitempty"`
	StoredProviderRefreshToken string `json:"provider_refresh_token,omitempty"`
}

func newFSRecord(a *wid.Account) *fsRecord {
	return &fsRecord{
		Account:                    *a,
		StoredPasswordDigest:       a.PasswordDigest,
		StoredProviderAccessToken:  a.ProviderAccessToken,
		StoredProviderRefreshToken: a.ProviderRefreshToken,
	}
}

func (r *fsRecord) account() *wid.Account {
	account := r.Account
	account.PasswordDigest = r.StoredPasswordDigest
	account.ProviderAccessToken = r.StoredProviderAccessToken
	account.ProviderRefreshToken = r.StoredProviderRefreshToken
	return &account
}

package stores

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	wid "github.com/purelife/wellnessid"
)

// FSLinkTokenStore stores link tokens as JSON files. Consumption is guarded
// by the store mutex, so a token is redeemed at most once per process.
type FSLinkTokenStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSLinkTokenStore(storagePath string) *FSLinkTokenStore {
	return &FSLinkTokenStore{StoragePath: storagePath}
}

func (s *FSLinkTokenStore) tokenPath(token string) string {
	return filepath.Join(s.StoragePath, "link_tokens", token+".json")
}

func (s *FSLinkTokenStore) SaveToken(ctx context.Context, token *wid.LinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tokenPath(token.Token)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *FSLinkTokenStore) ConsumeToken(ctx context.Context, raw string) (*wid.LinkToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.tokenPath(raw)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wid.ErrTokenNotFound
		}
		return nil, err
	}
	var token wid.LinkToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, err
	}
	if !token.UsedAt.IsZero() {
		return nil, wid.ErrTokenUsed
	}

	token.UsedAt = time.Now()
	updated, err := json.MarshalIndent(&token, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeAtomicFile(path, updated); err != nil {
		return nil, err
	}
	return &token, nil
}

// CleanupExpiredTokens removes tokens past their expiry.
func (s *FSLinkTokenStore) CleanupExpiredTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.StoragePath, "link_tokens")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	now := time.Now()
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var token wid.LinkToken
		if err := json.Unmarshal(data, &token); err != nil || token.Expired(now) {
			os.Remove(path)
		}
	}
	return nil
}

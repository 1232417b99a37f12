// Package fs persists client sessions on disk, one JSON file per server
// under a 0700 directory.
package fs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/purelife/wellnessid/client"
)

// FSCredentialStore keeps one credential file per server. Writes go straight
// to disk, so concurrent CLI invocations see each other's sessions without a
// separate save step.
type FSCredentialStore struct {
	dir string

	mu sync.Mutex
}

// NewFSCredentialStore opens (and creates, if needed) the store at dir. An
// empty dir defaults to ~/.config/<appName>/sessions.
func NewFSCredentialStore(dir, appName string) (*FSCredentialStore, error) {
	if dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "wellnessid"
		}
		dir = filepath.Join(configDir, appName, "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("could not create session directory: %w", err)
	}
	return &FSCredentialStore{dir: dir}, nil
}

// serverKey reduces a server URL to scheme://host so every path on the same
// server shares one session.
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (s *FSCredentialStore) credentialPath(key string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.dir, name+".json")
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.credentialPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cred client.ServerCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("corrupt session file for %s: %w", key, err)
	}
	return &cred, nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Session tokens are secrets: owner read/write only.
	return os.WriteFile(s.credentialPath(key), data, 0600)
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.credentialPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var servers []string
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".json")
		key, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			continue
		}
		servers = append(servers, string(key))
	}
	return servers, nil
}

// Save is a no-op: every mutation is written through immediately.
func (s *FSCredentialStore) Save() error { return nil }

// Dir returns the directory holding the session files.
func (s *FSCredentialStore) Dir() string { return s.dir }

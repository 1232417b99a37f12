package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	wid "github.com/purelife/wellnessid"
)

// SessionClient is an HTTP client that logs in with handle/password
// credentials, persists the resulting session token, and attaches it to every
// request as the session cookie.
type SessionClient struct {
	mu            sync.Mutex
	serverURL     string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	loginEndpoint string
}

// loginRequest is the body for the login endpoint.
type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// flowResponse mirrors the server's JSON envelope.
type flowResponse struct {
	Success          bool           `json:"success"`
	NextStep         string         `json:"next_step,omitempty"`
	AccountID        string         `json:"account_id,omitempty"`
	RotationRequired bool           `json:"rotation_required,omitempty"`
	Error            *wid.FlowError `json:"error,omitempty"`
}

// SessionInfo is the answer of the session endpoint.
type SessionInfo struct {
	Success     bool           `json:"success"`
	Provisional bool           `json:"provisional"`
	Principal   *wid.Principal `json:"principal"`
}

// ClientOption configures a SessionClient.
type ClientOption func(*SessionClient)

// WithLoginEndpoint sets a custom login endpoint path.
func WithLoginEndpoint(path string) ClientOption {
	return func(c *SessionClient) {
		c.loginEndpoint = path
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config,
// etc.). Its transport is wrapped with session handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SessionClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
	}
}

// WithTransport sets a custom base transport (for connection pooling,
// proxies, etc.).
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *SessionClient) {
		c.baseTransport = transport
	}
}

// NewSessionClient creates a client for the given server.
func NewSessionClient(serverURL string, store CredentialStore, opts ...ClientOption) *SessionClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &SessionClient{
		serverURL:     serverURL,
		store:         store,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		loginEndpoint: "/login",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &sessionTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns the underlying HTTP client with session handling.
func (c *SessionClient) HTTPClient() *http.Client {
	return c.httpClient
}

// ServerURL returns the server URL this client is configured for.
func (c *SessionClient) ServerURL() string {
	return c.serverURL
}

// SessionToken returns the stored session token, or "" when logged out or
// expired.
func (c *SessionClient) SessionToken() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.SessionToken, nil
}

// IsLoggedIn returns true if there is a valid (non-expired) session.
func (c *SessionClient) IsLoggedIn() bool {
	token, err := c.SessionToken()
	return err == nil && token != ""
}

// Login authenticates with handle/password and stores the session.
func (c *SessionClient) Login(ctx context.Context, handle, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(loginRequest{Handle: handle, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.loginEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	// Base transport directly: the login call itself needs no session.
	httpClient := &http.Client{Transport: c.baseTransport}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var flow flowResponse
	if err := json.Unmarshal(payload, &flow); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	if !flow.Success {
		if flow.Error != nil {
			return nil, flow.Error
		}
		return nil, fmt.Errorf("login failed: HTTP %d", resp.StatusCode)
	}

	cred := credentialFromCookies(resp.Cookies())
	if cred == nil {
		return nil, fmt.Errorf("server did not set a session cookie")
	}
	cred.AccountID = flow.AccountID
	cred.Handle = handle

	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Session fetches the current session info from the server.
func (c *SessionClient) Session(ctx context.Context) (*SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/session", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("not logged in")
	}
	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	return &info, nil
}

// Logout removes the stored session for this server.
func (c *SessionClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// credentialFromCookies extracts the session cookie the server set.
func credentialFromCookies(cookies []*http.Cookie) *ServerCredential {
	for _, cookie := range cookies {
		if cookie.Name != wid.SessionCookieName || cookie.Value == "" {
			continue
		}
		now := time.Now()
		expiresAt := now.Add(wid.SessionTokenTTL)
		if cookie.MaxAge > 0 {
			expiresAt = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		} else if !cookie.Expires.IsZero() {
			expiresAt = cookie.Expires
		}
		return &ServerCredential{
			SessionToken: cookie.Value,
			ExpiresAt:    expiresAt,
			CreatedAt:    now,
		}
	}
	return nil
}

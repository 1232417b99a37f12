package client

import (
	"net/http"

	wid "github.com/purelife/wellnessid"
)

// sessionTransport attaches the stored session cookie to every request. On a
// 401 the stored credential is dropped so the next call starts clean.
type sessionTransport struct {
	client *SessionClient
	base   http.RoundTripper
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.SessionToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.AddCookie(&http.Cookie{Name: wid.SessionCookieName, Value: token})
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.mu.Lock()
		t.client.store.RemoveCredential(t.client.serverURL)
		t.client.store.Save()
		t.client.mu.Unlock()
	}
	return resp, nil
}

// BearerTransport wraps an http.RoundTripper to add an Authorization header,
// for callers of the gRPC-gatewayed or token-based surfaces.
type BearerTransport struct {
	Base  http.RoundTripper
	Token string
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+t.Token)
		req = req2
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewBearerTransport creates a BearerTransport with the given token.
func NewBearerTransport(token string) *BearerTransport {
	return &BearerTransport{Base: http.DefaultTransport, Token: token}
}

package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// HTTPGateway talks to the verification vendor over its JSON API.
//
// BaseURL can be overridden for testing (point it at an httptest server).
type HTTPGateway struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

func NewHTTPGateway(baseURL, clientID, clientSecret string) *HTTPGateway {
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("VERIFY_GATEWAY_BASE_URL"))
	}
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("VERIFY_GATEWAY_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("VERIFY_GATEWAY_CLIENT_SECRET"))
	}
	return &HTTPGateway{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
}

func (g *HTTPGateway) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AcquireAccessToken fetches (or reuses) a gateway access token. Tokens are
// cached until shortly before their expiry since acquisition has no side
// effects on the vendor side.
func (g *HTTPGateway) AcquireAccessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cachedToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.cachedToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"client_id":     g.ClientID,
		"client_secret": g.ClientSecret,
		"grant_type":    "client_credentials",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("verification gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("verification gateway token request failed: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("invalid token response from verification gateway")
	}

	g.cachedToken = tr.AccessToken
	// Renew a minute early so in-flight requests never carry a stale token.
	g.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - time.Minute)
	return g.cachedToken, nil
}

// attributesResponse is the vendor payload for a completed verification.
type attributesResponse struct {
	Name      string `json:"name"`
	Phone     string `json:"mobile_no"`
	BirthDate string `json:"birth_date"`
	Gender    string `json:"gender"`
}

// RetrieveAttributes exchanges a one-time transaction reference for the
// verified attributes. The vendor rejects an already-consumed reference.
func (g *HTTPGateway) RetrieveAttributes(ctx context.Context, accessToken, transactionRef string) (*Attributes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/verifications/"+transactionRef, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification lookup failed for ref %s: status %d", transactionRef, resp.StatusCode)
	}

	var ar attributesResponse
	if err := json.Unmarshal(contents, &ar); err != nil {
		return nil, fmt.Errorf("failed to parse verification response: %w", err)
	}

	attrs := &Attributes{
		LegalName: ar.Name,
		Phone:     ar.Phone,
		BirthDate: ar.BirthDate,
		Gender:    ar.Gender,
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Invalidate tells the vendor to discard the verification record. Failures
// are the caller's to log; the record expires vendor-side regardless.
func (g *HTTPGateway) Invalidate(ctx context.Context, accessToken, transactionRef string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.BaseURL+"/verifications/"+transactionRef, nil)
	if err != nil {
		return fmt.Errorf("failed to create invalidate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client().Do(req)
	if err != nil {
		return fmt.Errorf("verification gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		slog.Warn("verification invalidate returned non-success", "ref", transactionRef, "status", resp.StatusCode)
		return fmt.Errorf("invalidate failed for ref %s: status %d", transactionRef, resp.StatusCode)
	}
	return nil
}

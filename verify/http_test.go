package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVendorServer(t *testing.T) (*httptest.Server, *vendorState) {
	t.Helper()
	state := &vendorState{
		records: map[string]map[string]string{
			"txn-1": {
				"name":       "Kim Jiwoo",
				"mobile_no":  "010-1234-2222",
				"birth_date": "19900315",
				"gender":     "F",
			},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["client_id"] != "cid" || body["client_secret"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		state.tokenRequests++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "vendor-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/verifications/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer vendor-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ref := strings.TrimPrefix(r.URL.Path, "/verifications/")
		switch r.Method {
		case http.MethodGet:
			rec, ok := state.records[ref]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(rec)
		case http.MethodDelete:
			delete(state.records, ref)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, state
}

type vendorState struct {
	records       map[string]map[string]string
	tokenRequests int
}

func newTestGateway(server *httptest.Server) *HTTPGateway {
	return NewHTTPGateway(server.URL, "cid", "secret")
}

func TestAcquireAccessToken(t *testing.T) {
	server, state := newVendorServer(t)
	gw := newTestGateway(server)

	token, err := gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vendor-token", token)

	// A second acquisition reuses the cached token.
	token, err = gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vendor-token", token)
	assert.Equal(t, 1, state.tokenRequests)
}

func TestAcquireAccessTokenBadCredentials(t *testing.T) {
	server, _ := newVendorServer(t)
	gw := NewHTTPGateway(server.URL, "cid", "wrong")

	_, err := gw.AcquireAccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestRetrieveAttributes(t *testing.T) {
	server, _ := newVendorServer(t)
	gw := newTestGateway(server)

	token, err := gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)

	attrs, err := gw.RetrieveAttributes(context.Background(), token, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, "Kim Jiwoo", attrs.LegalName)
	assert.Equal(t, "010-1234-2222", attrs.Phone)
	assert.Equal(t, "19900315", attrs.BirthDate)
	assert.Equal(t, "F", attrs.Gender)
}

func TestRetrieveAttributesUnknownRef(t *testing.T) {
	server, _ := newVendorServer(t)
	gw := newTestGateway(server)

	token, err := gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)

	_, err = gw.RetrieveAttributes(context.Background(), token, "txn-gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestRetrieveAttributesRejectsIncompletePayload(t *testing.T) {
	server, state := newVendorServer(t)
	state.records["txn-bad"] = map[string]string{"name": "Kim Jiwoo"}
	gw := newTestGateway(server)

	token, err := gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)

	_, err = gw.RetrieveAttributes(context.Background(), token, "txn-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing phone")
}

func TestInvalidateDiscardsRecord(t *testing.T) {
	server, state := newVendorServer(t)
	gw := newTestGateway(server)

	token, err := gw.AcquireAccessToken(context.Background())
	require.NoError(t, err)

	require.NoError(t, gw.Invalidate(context.Background(), token, "txn-1"))
	_, ok := state.records["txn-1"]
	assert.False(t, ok)

	// The reference is one-shot: a retrieval after invalidation fails.
	_, err = gw.RetrieveAttributes(context.Background(), token, "txn-1")
	require.Error(t, err)
}

func TestAttributesValidate(t *testing.T) {
	attrs := Attributes{LegalName: "Kim Jiwoo", Phone: "010-1234-2222", BirthDate: "19900315", Gender: "F"}
	require.NoError(t, attrs.Validate())

	bad := attrs
	bad.BirthDate = "1990-03-15"
	require.Error(t, bad.Validate())

	bad = attrs
	bad.LegalName = ""
	require.Error(t, bad.Validate())
}

func TestParseBirthDate(t *testing.T) {
	attrs := Attributes{BirthDate: "20120229"}
	parsed, err := attrs.ParseBirthDate()
	require.NoError(t, err)
	assert.Equal(t, 2012, parsed.Year())
	assert.Equal(t, 29, parsed.Day())
}

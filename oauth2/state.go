package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"
)

// StateCookieName holds the CSRF state minted when redirecting to a provider.
const StateCookieName = "oauthstate"

// SetStateCookie generates a random state value, sets it as a short-lived
// cookie and returns it for inclusion in the authorization URL.
func SetStateCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(10 * time.Minute),
		MaxAge:   600,
	})
	return state, nil
}

// VerifyStateCookie checks the callback's state parameter against the state
// cookie and clears the cookie either way.
func VerifyStateCookie(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{Name: StateCookieName, Path: "/", MaxAge: -1, Expires: time.Now()})

	cookie, err := r.Cookie(StateCookieName)
	if err != nil || cookie.Value == "" {
		return fmt.Errorf("missing oauth state cookie")
	}
	if got := r.FormValue("state"); got != cookie.Value {
		return fmt.Errorf("oauth state mismatch")
	}
	return nil
}

// Redirector returns a handler that starts the provider flow: it mints the
// state cookie and redirects the browser to the provider's consent page.
func Redirector(gw Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := SetStateCookie(w)
		if err != nil {
			http.Error(w, "failed to start login", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, gw.AuthCodeURL(state), http.StatusFound)
	}
}

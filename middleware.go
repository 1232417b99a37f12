package wellnessid

import (
	"context"
	"net/http"
	"time"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "WellnessIDSession"

type contextKey string

const principalContextKey contextKey = "wellnessid.principal"

// PrincipalFromContext returns the principal placed by ExtractPrincipal, or
// nil when the request carried no valid token.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// ContextWithPrincipal is exposed for tests and non-HTTP callers.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// SetSessionCookie writes the principal's signed token as the session cookie.
func SetSessionCookie(w http.ResponseWriter, codec *TokenCodec, p *Principal, now time.Time) error {
	token, err := codec.Encode(p, now)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ExtractPrincipal decodes the session cookie, if any, into the request
// context. An invalid or expired token behaves like no token at all; the
// stale cookie is cleared so the client stops replaying it.
func ExtractPrincipal(codec *TokenCodec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := codec.Decode(cookie.Value)
		if err != nil {
			ClearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireAccount guards protected resources: the request must carry a durable
// principal. Provisional principals are mid-enrollment and are rejected the
// same as anonymous callers.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil || p.IsProvisional() {
			writeJSONError(w, http.StatusUnauthorized, NewFlowError(CodeUnauthorized, "Login required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

package wellnessid

import (
	"context"
	"errors"
	"log/slog"
	"time"

	oagw "github.com/purelife/wellnessid/oauth2"
)

// Login handles returning users on both paths. Federated login is reached
// through the same callback as enrollment; credential login is a direct
// handle/password check.
type Login struct {
	Accounts AccountStore

	// Limiter throttles credential attempts per client+handle. Optional; no
	// limiter means no throttling.
	Limiter RateLimiter

	// Now is the clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (l *Login) EnsureDefaults() *Login {
	if l.Now == nil {
		l.Now = time.Now
	}
	return l
}

// Federated logs in an existing account identified by its external id. The
// stored profile is refreshed with whatever the provider sent this time, but
// a field the provider omitted never blanks a stored value.
func (l *Login) Federated(ctx context.Context, provider Provider, profile *oagw.Profile, account *Account) (*Result, error) {
	l.EnsureDefaults()

	if account.Locked {
		return &Result{
			Outcome:  OutcomeRejected,
			Redirect: "/",
			Reject:   NewFlowError(CodeAccountLocked, "This account is locked"),
		}, nil
	}

	update := AccountUpdate{}
	changed := false
	if profile.Email != "" && profile.Email != account.Email {
		update.Email = &profile.Email
		changed = true
	}
	if profile.DisplayName != "" && profile.DisplayName != account.DisplayName {
		update.DisplayName = &profile.DisplayName
		changed = true
	}
	if profile.AvatarURL != "" && profile.AvatarURL != account.AvatarURL {
		update.AvatarURL = &profile.AvatarURL
		changed = true
	}
	if changed {
		if err := l.Accounts.Update(ctx, account.ID, update); err != nil {
			// Profile refresh is best-effort; login proceeds on the stored
			// profile.
			slog.Warn("profile refresh failed", "account", account.ID, "err", err)
		} else {
			if update.Email != nil {
				account.Email = *update.Email
			}
			if update.DisplayName != nil {
				account.DisplayName = *update.DisplayName
			}
			if update.AvatarURL != nil {
				account.AvatarURL = *update.AvatarURL
			}
		}
	}
	if err := l.Accounts.TouchLastLogin(ctx, account.ID, l.Now()); err != nil {
		slog.Warn("last-login update failed", "account", account.ID, "err", err)
	}

	slog.Info("federated login", "account", account.ID, "provider", provider)
	return &Result{
		Outcome:          OutcomeLoggedIn,
		Principal:        DurablePrincipal(account, provider),
		Account:          account,
		Redirect:         "/",
		RotationRequired: account.RequireRotation,
	}, nil
}

// Credential checks a handle/password pair. An unknown handle and a wrong
// password produce byte-identical rejections so the response does not leak
// which handles exist. Attempts are throttled per client+handle, so one
// remote caller cannot exhaust another client's budget for the same handle.
func (l *Login) Credential(ctx context.Context, client, handle, password string) (*Result, error) {
	l.EnsureDefaults()

	if l.Limiter != nil && !l.Limiter.Allow(client+"|"+handle) {
		return &Result{
			Outcome:  OutcomeRejected,
			Redirect: "/",
			Reject:   NewFlowError(CodeRateLimited, "Too many attempts, please wait and try again"),
		}, nil
	}

	account, err := l.Accounts.FindByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return l.invalidCredentials(), nil
		}
		return nil, err
	}
	if !CheckPassword(account.PasswordDigest, password) {
		return l.invalidCredentials(), nil
	}
	if account.Locked {
		return &Result{
			Outcome:  OutcomeRejected,
			Redirect: "/",
			Reject:   NewFlowError(CodeAccountLocked, "This account is locked"),
		}, nil
	}

	if err := l.Accounts.TouchLastLogin(ctx, account.ID, l.Now()); err != nil {
		slog.Warn("last-login update failed", "account", account.ID, "err", err)
	}

	slog.Info("credential login", "account", account.ID)
	return &Result{
		Outcome:          OutcomeLoggedIn,
		Principal:        DurablePrincipal(account, ProviderWellness),
		Account:          account,
		Redirect:         "/",
		RotationRequired: account.RequireRotation,
	}, nil
}

func (l *Login) invalidCredentials() *Result {
	return &Result{
		Outcome:  OutcomeRejected,
		Redirect: "/",
		Reject:   NewFlowError(CodeInvalidCredentials, "Incorrect handle or password"),
	}
}

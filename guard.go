package wellnessid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/purelife/wellnessid/verify"
)

// MinimumAge is the regulatory enrollment floor, in completed years.
const MinimumAge = 14

// Classification is the guard's verdict on a set of verified attributes.
type Classification int

const (
	ClassNew Classification = iota
	ClassExisting
	ClassUnderAge
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassExisting:
		return "existing"
	case ClassUnderAge:
		return "under_age"
	}
	return "unknown"
}

// GuardResult carries the classification plus, for ClassExisting, the other
// account's origin and a masked identifier for user messaging. Raw email or
// phone values are never included.
type GuardResult struct {
	Class    Classification
	Account  *Account // set only for ClassExisting
	Origin   Provider // the existing account's enrollment origin
	MaskedID string
}

// AgeAt computes completed years from a YYYYMMDD birth date: the year
// difference, minus one if the birthday has not yet occurred this year.
func AgeAt(birthDate string, now time.Time) (int, error) {
	born, err := time.Parse("20060102", birthDate)
	if err != nil {
		return 0, fmt.Errorf("invalid birth date %q: must be YYYYMMDD", birthDate)
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age, nil
}

// Classify turns verified attributes into NEW / EXISTING / UNDER_AGE. The age
// gate runs first, unconditionally: an underage caller is blocked even when a
// duplicate account exists. Duplicate detection keys on the verified phone,
// never on any self-reported value. The same classification runs regardless
// of which enrollment path triggered verification.
func Classify(ctx context.Context, attrs *verify.Attributes, now time.Time, accounts AccountStore) (*GuardResult, error) {
	age, err := AgeAt(attrs.BirthDate, now)
	if err != nil {
		return nil, err
	}
	if age < MinimumAge {
		return &GuardResult{Class: ClassUnderAge}, nil
	}

	existing, err := accounts.FindByPhone(ctx, attrs.Phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return &GuardResult{Class: ClassNew}, nil
		}
		return nil, err
	}

	return &GuardResult{
		Class:    ClassExisting,
		Account:  existing,
		Origin:   existing.Origin,
		MaskedID: maskedAccountID(existing),
	}, nil
}

// maskedAccountID picks the friendliest identifier the existing account has
// and masks it.
func maskedAccountID(account *Account) string {
	switch {
	case account.Handle != "":
		return MaskHandle(account.Handle)
	case account.Email != "":
		return MaskEmail(account.Email)
	case account.Phone != "":
		return MaskPhone(account.Phone)
	}
	return ""
}

// MaskEmail keeps the first two characters of the local part: "ab***@x.com".
func MaskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	if len(local) <= 2 {
		return local[:1] + "***" + email[at:]
	}
	return local[:2] + "***" + email[at:]
}

// MaskPhone hides the middle digit group: "010-****-2222".
func MaskPhone(phone string) string {
	parts := strings.Split(phone, "-")
	if len(parts) == 3 {
		return parts[0] + "-****-" + parts[2]
	}
	if len(phone) > 4 {
		return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
	}
	return "****"
}

// MaskHandle keeps the first two characters of a login handle.
func MaskHandle(handle string) string {
	if handle == "" {
		return "***"
	}
	if len(handle) <= 2 {
		return handle[:1] + "***"
	}
	return handle[:2] + "***"
}

// Package verify models the third-party real-name verification gateway.
//
// The gateway hands back verified identity attributes (legal name, phone,
// birth date, gender) in exchange for a one-time transaction reference that
// the browser obtained by completing the vendor's verification UI. The
// vendor-side record is invalidated right after a successful retrieval so the
// regulated personal data cannot be fetched twice.
package verify

import (
	"context"
	"fmt"
	"time"
)

// Attributes are the verified identity attributes returned by the gateway.
// They are the only shape verification data takes past the gateway boundary.
type Attributes struct {
	LegalName string `json:"legal_name"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birth_date"` // YYYYMMDD
	Gender    string `json:"gender"`    // "M" or "F"
}

// Validate checks that the vendor payload decoded into a usable record.
func (a *Attributes) Validate() error {
	if a.LegalName == "" {
		return fmt.Errorf("verification payload missing legal name")
	}
	if a.Phone == "" {
		return fmt.Errorf("verification payload missing phone")
	}
	if _, err := a.ParseBirthDate(); err != nil {
		return err
	}
	return nil
}

// ParseBirthDate parses the YYYYMMDD birth date field.
func (a *Attributes) ParseBirthDate() (time.Time, error) {
	t, err := time.Parse("20060102", a.BirthDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid birth date %q: must be YYYYMMDD", a.BirthDate)
	}
	return t, nil
}

// Gateway is the contract with the verification vendor.
//
// AcquireAccessToken is side-effect free and may be cached or retried.
// RetrieveAttributes is one-shot per transaction reference: the vendor fails
// the second retrieval once the record has been invalidated.
// Invalidate is best-effort cleanup, not a correctness gate.
type Gateway interface {
	AcquireAccessToken(ctx context.Context) (string, error)
	RetrieveAttributes(ctx context.Context, accessToken, transactionRef string) (*Attributes, error)
	Invalidate(ctx context.Context, accessToken, transactionRef string) error
}

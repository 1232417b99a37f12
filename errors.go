package wellnessid

import "errors"

// Reason codes form a closed, stable vocabulary. Clients branch on these,
// never on message text.
const (
	CodeAlreadyRegistered    = "already_registered"
	CodeTermsRequired        = "terms_required"
	CodeVerificationRequired = "verification_required"
	CodeDuplicateID          = "duplicate_id"
	CodeUnauthorized         = "unauthorized"
	CodeUnderAge             = "under_14"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeHandleTaken          = "handle_taken"
	CodeWeakPassword         = "weak_password"
	CodeInvalidHandle        = "invalid_handle"
	CodeAccountLocked        = "account_locked"
	CodeGatewayError         = "gateway_error"
	CodeSessionExpired       = "session_expired"
	CodeRateLimited          = "rate_limited"
	CodeServerError          = "server_error"
)

// FlowError is the structured rejection every orchestrator operation returns
// instead of leaking raw gateway or repository errors.
type FlowError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Provider identifies the other account's enrollment origin on
	// already_registered rejections, for user messaging.
	Provider Provider `json:"provider,omitempty"`

	// MaskedID is a masked email/phone/handle hint. Raw identifiers are
	// never surfaced.
	MaskedID string `json:"masked_id,omitempty"`
}

func (e *FlowError) Error() string {
	return e.Code + ": " + e.Message
}

func NewFlowError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// Sentinel errors surfaced by the store layer.
var (
	// ErrAccountExists is returned by AccountStore.Create when a uniqueness
	// constraint (external id, email, handle, phone) is violated.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned by AccountStore lookups with no match.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTokenNotFound is returned when a link token does not exist or expired.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenUsed is returned when a one-time link token is consumed twice.
	ErrTokenUsed = errors.New("token already used")
)

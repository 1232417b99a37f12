package wellnessid

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	oagw "github.com/purelife/wellnessid/oauth2"
)

// Service is the HTTP surface over the enrollment and login orchestrators.
// Handlers translate Results into the JSON envelope and the session cookie;
// all decisions are made by the orchestrators.
type Service struct {
	Enrollment *Enrollment
	Codec      *TokenCodec
	Metrics    *Metrics
}

// flowResponse is the envelope every flow endpoint returns.
type flowResponse struct {
	Success  bool       `json:"success"`
	NextStep string     `json:"next_step,omitempty"`
	Account  string     `json:"account_id,omitempty"`
	Rotation bool       `json:"rotation_required,omitempty"`
	Error    *FlowError `json:"error,omitempty"`
}

// Attach registers all routes on the router.
func (s *Service) Attach(router *mux.Router) {
	s.Enrollment.EnsureDefaults()

	router.HandleFunc("/auth/{provider}/", s.startFederated).Methods("GET")
	router.HandleFunc("/auth/{provider}/callback", s.federatedCallback).Methods("GET")

	router.HandleFunc("/enroll/start", s.startDirect).Methods("POST")
	router.HandleFunc("/enroll/terms", s.agreeTerms).Methods("POST")
	router.HandleFunc("/enroll/verify", s.completeVerification).Methods("POST")
	router.HandleFunc("/enroll/credentials", s.completeCredentials).Methods("POST")

	router.HandleFunc("/login", s.credentialLogin).Methods("POST")
	router.HandleFunc("/session", s.session).Methods("GET")
	router.HandleFunc("/logout", s.logout).Methods("POST")

	router.Handle("/link/{provider}", RequireAccount(http.HandlerFunc(s.startLink))).Methods("POST")
}

// Handler wraps the router with the session middleware, ready to serve.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	s.Attach(router)
	return ExtractPrincipal(s.Codec, router)
}

func (s *Service) startFederated(w http.ResponseWriter, r *http.Request) {
	provider := Provider(mux.Vars(r)["provider"])
	gw, ok := s.Enrollment.Providers[provider]
	if !ok || !provider.Federated() {
		writeJSONError(w, http.StatusNotFound, NewFlowError(CodeServerError, "Unknown provider"))
		return
	}
	oagw.Redirector(gw)(w, r)
}

func (s *Service) federatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := Provider(mux.Vars(r)["provider"])
	if err := oagw.VerifyStateCookie(w, r); err != nil {
		writeJSONError(w, http.StatusBadRequest, NewFlowError(CodeUnauthorized, "Invalid oauth state"))
		return
	}
	code := r.FormValue("code")

	resumed := PrincipalFromContext(r.Context())
	res, err := s.Enrollment.HandleFederatedCallback(r.Context(), provider, code, resumed)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Metrics.ObserveEnrollment(PathFederated, res)
	s.redirectResult(w, r, res)
}

func (s *Service) startDirect(w http.ResponseWriter, r *http.Request) {
	res, err := s.Enrollment.InitiateDirectSignup(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Metrics.ObserveEnrollment(PathCredential, res)
	s.writeResult(w, res)
}

func (s *Service) agreeTerms(w http.ResponseWriter, r *http.Request) {
	res, err := s.Enrollment.AgreeTerms(r.Context(), PrincipalFromContext(r.Context()))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.observeEnrollment(res)
	s.writeResult(w, res)
}

func (s *Service) completeVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TransactionRef string `json:"transaction_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TransactionRef == "" {
		writeJSONError(w, http.StatusBadRequest, NewFlowError(CodeVerificationRequired, "A verification transaction reference is required"))
		return
	}
	res, err := s.Enrollment.CompleteVerification(r.Context(), PrincipalFromContext(r.Context()), body.TransactionRef)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.observeEnrollment(res)
	s.writeResult(w, res)
}

func (s *Service) completeCredentials(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, NewFlowError(CodeInvalidHandle, "A handle and password are required"))
		return
	}
	res, err := s.Enrollment.CompleteCredentials(r.Context(), PrincipalFromContext(r.Context()), body.Handle, body.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Metrics.ObserveEnrollment(PathCredential, res)
	s.writeResult(w, res)
}

func (s *Service) credentialLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Handle   string `json:"handle"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, NewFlowError(CodeInvalidCredentials, "A handle and password are required"))
		return
	}
	res, err := s.Enrollment.Login.Credential(r.Context(), clientAddr(r), body.Handle, body.Password)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Metrics.ObserveLogin(ProviderWellness, res)
	s.writeResult(w, res)
}

func (s *Service) session(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		writeJSONError(w, http.StatusUnauthorized, NewFlowError(CodeUnauthorized, "No session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"provisional": p.IsProvisional(),
		"principal":   p,
	})
}

func (s *Service) logout(w http.ResponseWriter, r *http.Request) {
	ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, flowResponse{Success: true, NextStep: s.Enrollment.HomeURL})
}

func (s *Service) startLink(w http.ResponseWriter, r *http.Request) {
	provider := Provider(mux.Vars(r)["provider"])
	p := PrincipalFromContext(r.Context())

	token, err := s.Enrollment.IssueLinkToken(r.Context(), p.Ref.Durable, provider)
	if err != nil {
		slog.Error("link token issue failed", "err", err)
		writeJSONError(w, http.StatusBadRequest, NewFlowError(CodeServerError, "Could not start provider linking"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"link_token": token.Token,
		"expires_at": token.ExpiresAt,
	})
}

func (s *Service) observeEnrollment(res *Result) {
	path := PathFederated
	if res.Principal != nil && res.Principal.Path == PathCredential {
		path = PathCredential
	}
	s.Metrics.ObserveEnrollment(path, res)
}

// writeResult applies the Result to the session cookie and emits the JSON
// envelope. A nil next principal clears the session.
func (s *Service) writeResult(w http.ResponseWriter, res *Result) {
	if !s.applyPrincipal(w, res) {
		return
	}
	status := http.StatusOK
	resp := flowResponse{NextStep: res.Redirect, Error: res.Reject, Rotation: res.RotationRequired}
	switch res.Outcome {
	case OutcomeEnrolled, OutcomeLoggedIn:
		resp.Success = true
		if res.Account != nil {
			resp.Account = res.Account.ID
		}
	case OutcomeTermsPending, OutcomeVerificationPending, OutcomeCredentialsPending:
		// A pending step that carries a rejection is a restart, not progress.
		resp.Success = res.Reject == nil
	case OutcomeError:
		status = http.StatusBadGateway
	default:
		status = rejectionStatus(res.Reject)
	}
	writeJSON(w, status, resp)
}

// redirectResult is writeResult for browser-facing endpoints: same cookie
// handling, but the answer is a redirect instead of JSON.
func (s *Service) redirectResult(w http.ResponseWriter, r *http.Request, res *Result) {
	if !s.applyPrincipal(w, res) {
		return
	}
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

func (s *Service) applyPrincipal(w http.ResponseWriter, res *Result) bool {
	if res.Principal != nil {
		if err := SetSessionCookie(w, s.Codec, res.Principal, s.Enrollment.Now()); err != nil {
			s.serverError(w, err)
			return false
		}
		return true
	}
	// No next principal: the inbound session stays as it was, unless the
	// flow terminated it.
	if res.ClearSession {
		ClearSessionCookie(w)
	}
	return true
}

func (s *Service) serverError(w http.ResponseWriter, err error) {
	slog.Error("flow failed", "err", err)
	writeJSONError(w, http.StatusInternalServerError, NewFlowError(CodeServerError, "Something went wrong, please try again"))
}

// clientAddr extracts the caller's address for rate-limit keying.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rejectionStatus(ferr *FlowError) int {
	if ferr == nil {
		return http.StatusOK
	}
	switch ferr.Code {
	case CodeUnauthorized, CodeSessionExpired:
		return http.StatusUnauthorized
	case CodeAlreadyRegistered, CodeDuplicateID, CodeHandleTaken:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAccountLocked:
		return http.StatusForbidden
	case CodeGatewayError:
		return http.StatusBadGateway
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, ferr *FlowError) {
	writeJSON(w, status, flowResponse{Success: false, Error: ferr})
}

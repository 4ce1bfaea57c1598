package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/auth"
	"github.com/helyxium/trustcore/coppa"
)

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := a.auth.Register(r.Context(), auth.RegisterRequest(req))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{UserID: id})
}

func (a *API) RegisterChild(w http.ResponseWriter, r *http.Request) {
	var req RegisterChildRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _, err := a.auth.RegisterChild(r.Context(), auth.RegisterRequest(req.RegisterRequest), req.Parent)
	if err != nil {
		mapError(w, err)
		return
	}
	consentID, err := a.auth.ConsentID(id)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterChildResponse{UserID: id, ConsentID: consentID})
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if blocked, wait := a.limiter.check(ip); blocked {
		writeRetryAfter(w, wait)
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
		return
	}
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	method, err := account.ParseAuthMethod(req.Method)
	if err != nil {
		mapError(w, err)
		return
	}
	out, err := a.auth.Authenticate(r.Context(), req.Identifier, req.Secret, method, req.Extra)
	if err != nil {
		mapError(w, err)
		return
	}
	a.writeOutcome(w, r, ip, out)
}

func (a *API) CompleteMFA(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if blocked, wait := a.limiter.check(ip); blocked {
		writeRetryAfter(w, wait)
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
		return
	}
	var req MFARequest
	if !decodeJSON(w, r, &req) {
		return
	}
	method, err := account.ParseAuthMethod(req.Method)
	if err != nil {
		mapError(w, err)
		return
	}
	out, err := a.auth.CompleteMFA(r.Context(), req.ChallengeID, method, req.Secret)
	if err != nil {
		mapError(w, err)
		return
	}
	a.writeOutcome(w, r, ip, out)
}

// writeOutcome maps a login result to a status code. Success also sets the
// session and CSRF cookies.
func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, ip string, out auth.Outcome) {
	switch out.Result {
	case auth.ResultSuccess:
		a.limiter.recordSuccess(ip)
		s, _, err := a.auth.ValidateSession(r.Context(), out.SessionID)
		if err != nil {
			mapError(w, err)
			return
		}
		writeSessionCookie(w, r, out.SessionID, s.ExpiresAt)
		writeCSRFCookie(w, r)
		writeJSON(w, http.StatusOK, out)
	case auth.ResultMFARequired:
		writeJSON(w, http.StatusOK, out)
	case auth.ResultFailed:
		a.limiter.recordFailure(ip)
		writeJSON(w, http.StatusUnauthorized, out)
	case auth.ResultAccountLocked:
		if out.LockedUntil != nil {
			writeRetryAfter(w, out.LockedUntil.Sub(a.clock.Now()))
		}
		writeJSON(w, http.StatusLocked, out)
	case auth.ResultConsentRequired:
		writeJSON(w, http.StatusForbidden, out)
	default:
		a.logger.ErrorContext(r.Context(), "unknown login result", "result", string(out.Result))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), p.session.ID); err != nil {
		mapError(w, err)
		return
	}
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{
		Session:        p.session,
		Profile:        p.profile,
		CoppaCompliant: a.auth.IsCoppaCompliant(p.profile.ID),
	})
}

func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := principalFromContext(r.Context())
	if err := a.auth.ChangePassword(r.Context(), p.profile.ID, req.OldPassword, req.NewPassword); err != nil {
		mapError(w, err)
		return
	}
	if req.RevokeOtherSessions {
		a.auth.LogoutOthers(r.Context(), p.profile.ID, p.session.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) EnableMFA(w http.ResponseWriter, r *http.Request) {
	var req EnableMFARequest
	if !decodeJSON(w, r, &req) {
		return
	}
	method, err := account.ParseAuthMethod(req.Method)
	if err != nil {
		mapError(w, err)
		return
	}
	p := principalFromContext(r.Context())
	enrollment, err := a.auth.EnableMFA(r.Context(), p.profile.ID, method)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

func (a *API) PublicKey(w http.ResponseWriter, r *http.Request) {
	if a.keys == nil {
		writeError(w, http.StatusNotFound, "no key material")
		return
	}
	pem, err := a.keys.PublicKeyPEM()
	if err != nil {
		mapError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(pem)
}

// RequestConsent restarts consent for a child. Only the parent on record
// may call it, and the token goes to the parent through the notifier.
func (a *API) RequestConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	p := principalFromContext(r.Context())
	id, err := a.auth.RequestConsentAsParent(r.Context(), p.profile.ID, chi.URLParam(r, "userID"), req.Parent)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ConsentIDResponse{ConsentID: id})
}

func (a *API) VerifyConsent(w http.ResponseWriter, r *http.Request) {
	var req VerifyConsentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := a.auth.VerifyParentalConsent(r.Context(), req.Token, req.Proof)
	if errors.Is(err, auth.ErrProfileFlagPending) {
		a.logger.WarnContext(r.Context(), "consent verified with profile flag pending", "user_id", c.ChildUserID)
	} else if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) ChildProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	child, err := a.auth.Coppa().GetChildProfile(p.profile.ID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, child)
}

func (a *API) SessionLimits(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	status, err := a.auth.CheckSessionLimits(r.Context(), p.profile.ID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := principalFromContext(r.Context())
	status, err := a.auth.RecordSessionTime(r.Context(), p.profile.ID, req.Minutes)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) DataCollection(w http.ResponseWriter, r *http.Request) {
	d, err := coppa.ParseDataCollectionType(chi.URLParam(r, "type"))
	if err != nil {
		mapError(w, err)
		return
	}
	p := principalFromContext(r.Context())
	allowed, err := a.auth.Coppa().IsDataCollectionAllowed(p.profile.ID, d)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataCollectionResponse{Type: d, Allowed: allowed})
}

// UpdateSettings may only be called by the parent who verified the
// child's latest consent.
func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	childID := chi.URLParam(r, "userID")
	if err := a.auth.AuthorizeParent(p.profile.ID, childID, true); err != nil {
		mapError(w, err)
		return
	}
	var req coppa.ParentalSettings
	if !decodeJSON(w, r, &req) {
		return
	}
	child, err := a.auth.UpdateParentalSettings(r.Context(), childID, req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, child)
}

package api

import (
	"github.com/helyxium/trustcore/account"
	"github.com/helyxium/trustcore/coppa"
	"github.com/helyxium/trustcore/session"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Age         *int   `json:"age,omitempty"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type RegisterChildRequest struct {
	RegisterRequest
	Parent coppa.ParentContact `json:"parent"`
}

// RegisterChildResponse names the pending consent request. Its token is
// delivered to the parent, never to the registering client.
type RegisterChildResponse struct {
	UserID    string `json:"user_id"`
	ConsentID string `json:"consent_id"`
}

type LoginRequest struct {
	Identifier string            `json:"identifier"`
	Secret     string            `json:"secret"`
	Method     string            `json:"method,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

type MFARequest struct {
	ChallengeID string `json:"challenge_id"`
	Method      string `json:"method"`
	Secret      string `json:"secret"`
}

type EnableMFARequest struct {
	Method string `json:"method"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
	// RevokeOtherSessions ends every session except the caller's.
	RevokeOtherSessions bool `json:"revoke_other_sessions,omitempty"`
}

// MeResponse describes the caller's session and profile.
type MeResponse struct {
	Session        session.Session      `json:"session"`
	Profile        *account.UserProfile `json:"profile"`
	CoppaCompliant bool                 `json:"coppa_compliant"`
}

type ConsentRequestBody struct {
	Parent coppa.ParentContact `json:"parent"`
}

type ConsentIDResponse struct {
	ConsentID string `json:"consent_id"`
}

type VerifyConsentRequest struct {
	Token string             `json:"token"`
	Proof coppa.ConsentProof `json:"proof"`
}

type UsageRequest struct {
	Minutes int `json:"minutes"`
}

type DataCollectionResponse struct {
	Type    coppa.DataCollectionType `json:"type"`
	Allowed bool                     `json:"allowed"`
}

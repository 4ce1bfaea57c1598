package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helyxium/trustcore/api"
	"github.com/helyxium/trustcore/auth"
	"github.com/helyxium/trustcore/config"
	"github.com/helyxium/trustcore/coppa"
	"github.com/helyxium/trustcore/core"
	"github.com/helyxium/trustcore/internal/clock"
)

const adultPassword = "Str0ng!Pass"

type testServer struct {
	*httptest.Server
	clock *clock.FakeClock
	mail  *mailbox
}

// mailbox stands in for the parents' inboxes.
type mailbox struct {
	mu   sync.Mutex
	reqs []coppa.ConsentRequest
}

func (m *mailbox) NotifyConsentRequest(_ context.Context, req coppa.ConsentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return nil
}

// latest returns the newest consent request sent about childID.
func (m *mailbox) latest(t *testing.T, childID string) coppa.ConsentRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.reqs) - 1; i >= 0; i-- {
		if m.reqs[i].ChildUserID == childID {
			return m.reqs[i]
		}
	}
	t.Fatalf("no consent request for %s", childID)
	return coppa.ConsentRequest{}
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	mail := &mailbox{}
	c, err := core.Open(t.Context(), cfg, nil, core.WithClock(fc), core.WithNotifier(mail), core.WithoutSweeper())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	a := api.New(c.Auth, c.Custodian, api.WithClock(fc))
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, clock: fc, mail: mail}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func bearer(token string) requestOption {
	return withHeader("Authorization", "Bearer "+token)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, opts ...requestOption) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) url(path string) string { return s.URL + "/api/v1" + path }

func (s *testServer) register(t *testing.T, client *http.Client, username string, age int) string {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, s.url("/auth/register"), api.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: adultPassword,
		Age:      &age,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.RegisterResponse](t, resp).UserID
}

func (s *testServer) login(t *testing.T, client *http.Client, identifier, secret string) (*http.Response, auth.Outcome) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, s.url("/auth/login"), api.LoginRequest{
		Identifier: identifier,
		Secret:     secret,
	})
	return resp, decode[auth.Outcome](t, resp)
}

func (s *testServer) registerChild(t *testing.T, username string, age int, parent coppa.ParentContact) api.RegisterChildResponse {
	t.Helper()
	resp := doJSON(t, http.DefaultClient, http.MethodPost, s.url("/auth/register/child"), api.RegisterChildRequest{
		RegisterRequest: api.RegisterRequest{
			Username: username,
			Email:    username + "@example.com",
			Password: adultPassword,
			Age:      &age,
		},
		Parent: parent,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.RegisterChildResponse](t, resp)
}

func (s *testServer) verifyConsent(t *testing.T, token string) *http.Response {
	t.Helper()
	return doJSON(t, http.DefaultClient, http.MethodPost, s.url("/coppa/consent/verify"), api.VerifyConsentRequest{
		Token: token,
		Proof: coppa.ConsentProof{EmailConfirmed: true},
	})
}

// adultSession registers username (email username@example.com) and logs in.
func (s *testServer) adultSession(t *testing.T, username string) requestOption {
	t.Helper()
	s.register(t, http.DefaultClient, username, 40)
	_, out := s.login(t, http.DefaultClient, username, adultPassword)
	require.Equal(t, auth.ResultSuccess, out.Result)
	return bearer(out.SessionID)
}

var pat = coppa.ParentContact{Email: "pat@example.com", Name: "Pat", Method: coppa.ConsentEmail}

func csrfToken(t *testing.T, client *http.Client, base string) string {
	t.Helper()
	u, err := url.Parse(base)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "trustcore_csrf" {
			return c.Value
		}
	}
	t.Fatal("no CSRF cookie")
	return ""
}

func TestRegisterLoginAndLogout(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)

	id := srv.register(t, client, "alice", 30)
	resp, out := srv.login(t, client, "alice", adultPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.ResultSuccess, out.Result)
	assert.Equal(t, id, out.UserID)

	resp = doJSON(t, client, http.MethodGet, srv.url("/auth/me"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[api.MeResponse](t, resp)
	assert.Equal(t, "alice", me.Profile.Username)
	assert.True(t, me.CoppaCompliant)
	assert.Equal(t, out.SessionID, me.Session.ID)

	resp = doJSON(t, client, http.MethodPost, srv.url("/auth/logout"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "cookie-authenticated logout needs the CSRF header")

	resp = doJSON(t, client, http.MethodPost, srv.url("/auth/logout"), nil,
		withHeader("X-CSRF-Token", csrfToken(t, client, srv.URL)))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, srv.url("/auth/me"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	srv := setupServer(t)
	client := newClient(t)
	srv.register(t, client, "alice", 30)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"weak password", api.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "short"}, http.StatusBadRequest},
		{"duplicate username", api.RegisterRequest{Username: "alice", Email: "other@example.com", Password: adultPassword}, http.StatusConflict},
		{"under thirteen", map[string]any{"username": "kid", "email": "kid@example.com", "password": adultPassword, "age": 9}, http.StatusForbidden},
		{"unknown field", map[string]any{"username": "bob", "passphrase": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, srv.url("/auth/register"), tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBearerTokenSkipsCSRF(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, http.DefaultClient, "alice", 30)

	_, out := srv.login(t, http.DefaultClient, "alice@example.com", adultPassword)
	require.Equal(t, auth.ResultSuccess, out.Result)

	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/password"), api.ChangePasswordRequest{
		OldPassword: adultPassword,
		NewPassword: "N3w!Passw0rd",
	}, bearer(out.SessionID))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = srv.login(t, http.DefaultClient, "alice", "N3w!Passw0rd")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthenticatedRoutesRequireSession(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/limits"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/auth/me"), nil, bearer("not-a-session"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccountLockout(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, http.DefaultClient, "alice", 30)

	for i := 0; i < 5; i++ {
		resp, out := srv.login(t, http.DefaultClient, "alice", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, auth.ResultFailed, out.Result)
	}

	resp, out := srv.login(t, http.DefaultClient, "alice", adultPassword)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.Equal(t, auth.ResultAccountLocked, out.Result)
	require.NotNil(t, out.LockedUntil)
	assert.Equal(t, "300", resp.Header.Get("Retry-After"))

	srv.clock.Advance(5*time.Minute + time.Second)
	resp, _ = srv.login(t, http.DefaultClient, "alice", adultPassword)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	srv := setupServer(t)

	for i := 0; i < 20; i++ {
		resp, _ := srv.login(t, http.DefaultClient, "nobody", "whatever")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/login"), api.LoginRequest{
		Identifier: "nobody",
		Secret:     "whatever",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestMFAFlow(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, http.DefaultClient, "alice", 30)
	_, out := srv.login(t, http.DefaultClient, "alice", adultPassword)
	require.Equal(t, auth.ResultSuccess, out.Result)

	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa/enable"),
		api.EnableMFARequest{Method: "totp"}, bearer(out.SessionID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enrollment := decode[auth.MFAEnrollment](t, resp)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")

	resp, out = srv.login(t, http.DefaultClient, "alice", adultPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, auth.ResultMFARequired, out.Result)
	require.NotEmpty(t, out.ChallengeID)

	code, err := totp.GenerateCode(enrollment.Secret, srv.clock.Now())
	require.NoError(t, err)
	wrong := []byte(code)
	wrong[0] = '0' + (wrong[0]-'0'+1)%10

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa"), api.MFARequest{
		ChallengeID: out.ChallengeID,
		Method:      "totp",
		Secret:      string(wrong),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa"), api.MFARequest{
		ChallengeID: out.ChallengeID,
		Method:      "totp",
		Secret:      code,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "challenge is consumed by the failed attempt")

	_, out = srv.login(t, http.DefaultClient, "alice", adultPassword)
	require.Equal(t, auth.ResultMFARequired, out.Result)
	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa"), api.MFARequest{
		ChallengeID: out.ChallengeID,
		Method:      "password",
		Secret:      adultPassword,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "second factor must differ from the first")

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa"), api.MFARequest{
		ChallengeID: out.ChallengeID,
		Method:      "totp",
		Secret:      code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.ResultSuccess, decode[auth.Outcome](t, resp).Result)
}

func TestChildConsentFlow(t *testing.T) {
	srv := setupServer(t)
	age := 10
	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/register/child"), api.RegisterChildRequest{
		RegisterRequest: api.RegisterRequest{
			Username: "sam",
			Email:    "sam@example.com",
			Password: adultPassword,
			Age:      &age,
		},
		Parent: pat,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "token")
	var reg api.RegisterChildResponse
	require.NoError(t, json.Unmarshal(raw, &reg))

	sent := srv.mail.latest(t, reg.UserID)
	assert.Equal(t, reg.ConsentID, sent.ConsentID)
	assert.Equal(t, pat.Email, sent.ParentEmail)

	resp, out := srv.login(t, http.DefaultClient, "sam", adultPassword)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.ResultConsentRequired, out.Result)

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/coppa/consent/verify"), api.VerifyConsentRequest{
		Token: sent.Token,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing proof is rejected")

	resp = srv.verifyConsent(t, sent.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	consent := decode[coppa.ParentalConsent](t, resp)
	assert.True(t, consent.Verified)
	assert.Equal(t, reg.ConsentID, consent.ID)

	resp = srv.verifyConsent(t, sent.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "tokens are single use")

	resp, out = srv.login(t, http.DefaultClient, "sam", adultPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	child := bearer(out.SessionID)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/limits"), nil, child)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[coppa.SessionLimitStatus](t, resp)
	assert.True(t, status.IsChild)
	assert.Equal(t, 60, status.RemainingDaily)

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/coppa/usage"), api.UsageRequest{Minutes: 20}, child)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 40, decode[coppa.SessionLimitStatus](t, resp).RemainingDaily)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/data-collection/marketing"), nil, child)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[api.DataCollectionResponse](t, resp).Allowed)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/data-collection/enhanced_features"), nil, child)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[api.DataCollectionResponse](t, resp).Allowed)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/data-collection/telemetry"), nil, child)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/profile"), nil, child)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[coppa.ChildProfile](t, resp)
	assert.Equal(t, reg.UserID, profile.UserID)
	assert.Equal(t, consent.ID, profile.ConsentID)
}

func TestConsentRequestRequiresParentOnRecord(t *testing.T) {
	srv := setupServer(t)
	reg := srv.registerChild(t, "sam", 11, pat)
	original := srv.mail.latest(t, reg.UserID)
	path := srv.url("/coppa/children/" + reg.UserID + "/consent")
	self := coppa.ParentContact{Email: "sam@example.com", Name: "Sam", Method: coppa.ConsentEmail}

	resp := doJSON(t, http.DefaultClient, http.MethodPost, path, api.ConsentRequestBody{Parent: self})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	mallory := srv.adultSession(t, "mallory")
	resp = doJSON(t, http.DefaultClient, http.MethodPost, path,
		api.ConsentRequestBody{Parent: coppa.ParentContact{Email: "mallory@example.com", Name: "M", Method: coppa.ConsentEmail}}, mallory)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	parent := srv.adultSession(t, "pat")
	resp = doJSON(t, http.DefaultClient, http.MethodPost, path, api.ConsentRequestBody{Parent: self}, parent)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "requests cannot be redirected away from the parent")

	assert.Equal(t, original.ConsentID, srv.mail.latest(t, reg.UserID).ConsentID)
	resp, out := srv.login(t, http.DefaultClient, "sam", adultPassword)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.ResultConsentRequired, out.Result)

	resp = doJSON(t, http.DefaultClient, http.MethodPost, path,
		api.ConsentRequestBody{Parent: coppa.ParentContact{Email: "PAT@example.com", Name: "Pat", Method: coppa.ConsentPhone}}, parent)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "token")
	var issued api.ConsentIDResponse
	require.NoError(t, json.Unmarshal(raw, &issued))

	fresh := srv.mail.latest(t, reg.UserID)
	assert.Equal(t, issued.ConsentID, fresh.ConsentID)
	assert.NotEqual(t, original.ConsentID, fresh.ConsentID)

	resp = srv.verifyConsent(t, original.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "superseded token")

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/coppa/consent/verify"), api.VerifyConsentRequest{
		Token: fresh.Token,
		Proof: coppa.ConsentProof{PhoneVerified: true},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/coppa/children/nobody/consent"),
		api.ConsentRequestBody{Parent: pat}, parent)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParentalSettingsRequireVerifyingParent(t *testing.T) {
	srv := setupServer(t)
	reg := srv.registerChild(t, "sam", 8, pat)
	parent := srv.adultSession(t, "pat")
	stranger := srv.adultSession(t, "alex")
	path := srv.url("/coppa/children/" + reg.UserID + "/settings")
	share := map[string]any{"social_restrictions": map[string]any{"can_share_personal_info": true}}

	resp := doJSON(t, http.DefaultClient, http.MethodPut, path, share, parent)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "consent not verified yet")

	require.Equal(t, http.StatusOK, srv.verifyConsent(t, srv.mail.latest(t, reg.UserID).Token).StatusCode)
	_, childOut := srv.login(t, http.DefaultClient, "sam", adultPassword)
	require.Equal(t, auth.ResultSuccess, childOut.Result)

	resp = doJSON(t, http.DefaultClient, http.MethodPut, path, share, bearer(childOut.SessionID))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = doJSON(t, http.DefaultClient, http.MethodPut, path, share, stranger)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/coppa/profile"), nil, bearer(childOut.SessionID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[coppa.ChildProfile](t, resp).SocialRestrictions.CanSharePersonalInfo)

	resp = doJSON(t, http.DefaultClient, http.MethodPut, path,
		map[string]any{"social_restrictions": map[string]any{"can_voice_chat": true}}, parent)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[coppa.ChildProfile](t, resp)
	assert.Equal(t, coppa.SocialRestrictions{CanChat: true, CanVoiceChat: true, CanAddFriends: true}, profile.SocialRestrictions)

	resp = doJSON(t, http.DefaultClient, http.MethodPut, path,
		map[string]any{"session_time_limits": map[string]any{"daily_limit": 120}}, parent)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile = decode[coppa.ChildProfile](t, resp)
	assert.Equal(t, coppa.SessionTimeLimits{DailyLimit: 120, SessionLimit: 30, BreakInterval: 15}, profile.SessionTimeLimits)

	resp = doJSON(t, http.DefaultClient, http.MethodPut, path,
		map[string]any{"session_time_limits": map[string]any{"session_limit": 200}}, parent)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChangePasswordCanRevokeOtherSessions(t *testing.T) {
	srv := setupServer(t)
	srv.register(t, http.DefaultClient, "alice", 30)
	_, first := srv.login(t, http.DefaultClient, "alice", adultPassword)
	_, second := srv.login(t, http.DefaultClient, "alice", adultPassword)

	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/password"), api.ChangePasswordRequest{
		OldPassword:         adultPassword,
		NewPassword:         "N3w!Passw0rd",
		RevokeOtherSessions: true,
	}, bearer(second.SessionID))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/auth/me"), nil, bearer(first.SessionID))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/auth/me"), nil, bearer(second.SessionID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEnableMFARejectsUnverifiableMethod(t *testing.T) {
	srv := setupServer(t)
	session := srv.adultSession(t, "alice")

	resp := doJSON(t, http.DefaultClient, http.MethodPost, srv.url("/auth/mfa/enable"),
		api.EnableMFARequest{Method: "sms_code"}, session)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := srv.login(t, http.DefaultClient, "alice", adultPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.ResultSuccess, out.Result)
}

func TestPublicKeyAndDocs(t *testing.T) {
	srv := setupServer(t)

	resp := doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/keys/public"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN PUBLIC KEY")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = doJSON(t, http.DefaultClient, http.MethodGet, srv.url("/openapi.yaml"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "openapi: 3.0.3")
}

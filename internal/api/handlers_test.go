package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/otp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	result     *otp.Result
	totpResult *otp.TOTPResult
	err        error
	lastReq    otp.Request
}

func (s *fakeService) Retrieve(_ context.Context, req otp.Request) (*otp.Result, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *fakeService) RetrieveTOTP(_ context.Context, req otp.Request, _ otp.TOTPDefaults) (*otp.TOTPResult, error) {
	s.lastReq = req
	return s.totpResult, s.err
}

func newTestServer(service RetrievalService) (*Server, string) {
	jwt := NewJWTManager("test-secret", time.Hour)
	token, _ := jwt.GenerateToken(42, "user@example.com")
	return NewServer(service, otp.TOTPDefaults{Digits: 6, Period: 30}, jwt, nil), token
}

func doRequest(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMailOTPSuccess(t *testing.T) {
	fetched := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	service := &fakeService{result: &otp.Result{
		OTP: "739201", From: "no-reply@bank.example", Subject: "Sign-in", FetchedAt: fetched,
	}}
	server, token := newTestServer(service)

	w := doRequest(server.Router(), "/api/v1/otp/acme", token)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, "739201", body["otp"])
	require.Equal(t, "no-reply@bank.example", body["from"])
	require.Equal(t, "2025-06-02T12:00:00Z", body["fetched_at"])

	require.Equal(t, 42, service.lastReq.UserID)
	require.Equal(t, "acme", service.lastReq.ProductSlug)
	require.NotEmpty(t, service.lastReq.RequestID)
}

func TestTOTPSuccess(t *testing.T) {
	service := &fakeService{totpResult: &otp.TOTPResult{
		Code: "482913", ValidForSeconds: 17, Issuer: "ByteBank", AccountLabel: "vault",
		FetchedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}}
	server, token := newTestServer(service)

	w := doRequest(server.Router(), "/api/v1/totp/acme", token)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	require.Equal(t, "482913", body["code"])
	require.Equal(t, float64(17), body["valid_for_seconds"])
	require.Equal(t, "ByteBank", body["issuer"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{otp.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
		{otp.ErrNoAccounts, http.StatusNotFound, "no_accounts"},
		{otp.ErrNoTOTPConfig, http.StatusNotFound, "no_accounts"},
		{otp.ErrNotFound, http.StatusNotFound, "otp_not_found"},
		{otp.ErrNoAccess, http.StatusForbidden, "no_access"},
		{otp.ErrAccessExpired, http.StatusForbidden, "access_expired"},
		{otp.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{errors.New("broken pipe"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			server, token := newTestServer(&fakeService{err: tc.err})
			w := doRequest(server.Router(), "/api/v1/otp/acme", token)
			require.Equal(t, tc.status, w.Code)

			body := decodeBody(t, w)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.code, body["error"])
		})
	}
}

func TestAuthRequired(t *testing.T) {
	server, _ := newTestServer(&fakeService{})
	router := server.Router()

	w := doRequest(router, "/api/v1/otp/acme", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, "/api/v1/otp/acme", "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	jwt := NewJWTManager("test-secret", -time.Minute)
	token, err := jwt.GenerateToken(42, "user@example.com")
	require.NoError(t, err)

	server := NewServer(&fakeService{}, otp.TOTPDefaults{}, NewJWTManager("test-secret", time.Hour), nil)
	w := doRequest(server.Router(), "/api/v1/otp/acme", token)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	service := &fakeService{err: otp.ErrNotFound}
	server, token := newTestServer(service)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/otp/acme", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "client-supplied")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	require.Equal(t, "client-supplied", w.Header().Get("X-Request-ID"))
	require.Equal(t, "client-supplied", service.lastReq.RequestID)
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(&fakeService{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestJWTRoundTrip(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)
	token, err := manager.GenerateToken(7, "a@b.example")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, 7, claims.UserID)
	require.Equal(t, "a@b.example", claims.Email)

	_, err = manager.ValidateToken(token + "x")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewJWTManager("different", time.Hour)
	_, err = other.ValidateToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

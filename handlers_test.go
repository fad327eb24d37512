package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMail struct {
	to, subject, body string
}

type captureMailer struct {
	ch chan capturedMail
}

func (c *captureMailer) Send(to, subject, body string) error {
	c.ch <- capturedMail{to: to, subject: subject, body: body}
	return nil
}

type testApp struct {
	*App
	router http.Handler
	store  *MemDB
	mail   chan capturedMail
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := NewMemoryDB()
	mail := make(chan capturedMail, 4)
	app := &App{
		DB:                 store,
		Mail:               &captureMailer{ch: mail},
		ClientURL:          "http://localhost:8080",
		RevealUnknownEmail: true,
	}
	return &testApp{App: app, router: newRouter(app), store: store, mail: mail}
}

func (ta *testApp) doJSON(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	return rec
}

func (ta *testApp) register(t *testing.T, username, email, password string) {
	t.Helper()
	rec := ta.doJSON(t, "POST", "/api/users/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ta *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := ta.doJSON(t, "POST", "/api/users/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

// waitForMail receives the reset email and extracts the secret from the link.
func (ta *testApp) waitForMail(t *testing.T) (capturedMail, string) {
	t.Helper()
	select {
	case m := <-ta.mail:
		i := strings.Index(m.body, "token=")
		require.GreaterOrEqual(t, i, 0, "mail body carries a reset link")
		rest := m.body[i+len("token="):]
		if j := strings.IndexAny(rest, "&\n "); j >= 0 {
			rest = rest[:j]
		}
		return m, rest
	case <-time.After(2 * time.Second):
		t.Fatal("no reset email sent")
		return capturedMail{}, ""
	}
}

func TestRegisterValidation(t *testing.T) {
	ta := newTestApp(t)
	rec := ta.doJSON(t, "POST", "/api/users/register", "", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDuplicate(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/register", "", map[string]string{
		"username": "alice2", "email": "alice@x.com", "password": "pw1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "USER_EXISTS")

	rec = ta.doJSON(t, "POST", "/api/users/register", "", map[string]string{
		"username": "alice", "email": "other@x.com", "password": "pw1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterStoresHashedPassword(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.NotEqual(t, "pw1", u.Password)
	assert.True(t, u.IsActive)
}

func TestLogin(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/login", "", map[string]string{
		"email": "nobody@x.com", "password": "pw1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/users/login", "", map[string]string{
		"email": "alice@x.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token := ta.login(t, "alice@x.com", "pw1")
	ident, err := parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", ident.Email)
}

func TestUpdatePasswordScenario(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")
	token := ta.login(t, "alice@x.com", "pw1")

	rec := ta.doJSON(t, "PATCH", "/api/users/update-password", token, map[string]string{
		"oldPassword": "wrong", "newPassword": "pw2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.doJSON(t, "PATCH", "/api/users/update-password", token, map[string]string{
		"oldPassword": "pw1", "newPassword": "pw2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// old password no longer works, new one does
	rec = ta.doJSON(t, "POST", "/api/users/login", "", map[string]string{
		"email": "alice@x.com", "password": "pw1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ta.login(t, "alice@x.com", "pw2")
}

func TestUpdateDetails(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")
	ta.register(t, "bob", "bob@x.com", "pw1")
	token := ta.login(t, "alice@x.com", "pw1")

	rec := ta.doJSON(t, "PATCH", "/api/users/update", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.doJSON(t, "PATCH", "/api/users/update", token, map[string]string{"username": "alice2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Username)

	rec = ta.doJSON(t, "PATCH", "/api/users/update", token, map[string]string{"email": "bob@x.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "USER_EXISTS")
}

func TestDeactivate(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")
	token := ta.login(t, "alice@x.com", "pw1")

	rec := ta.doJSON(t, "PATCH", "/api/users/deactivate", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	// the token keeps working until expiry; the gate never consults the store
	rec = ta.doJSON(t, "PATCH", "/api/users/update", token, map[string]string{"username": "still-here"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRejectAnonymous(t *testing.T) {
	ta := newTestApp(t)
	for _, probe := range []struct{ method, path string }{
		{"PATCH", "/api/users/deactivate"},
		{"PATCH", "/api/users/update"},
		{"PATCH", "/api/users/update-password"},
		{"GET", "/api/admin/users"},
	} {
		rec := ta.doJSON(t, probe.method, probe.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, probe.path)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	ta := newTestApp(t)
	rec := ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// with the leak disabled the answer is indistinguishable from success
	ta.RevealUnknownEmail = false
	rec = ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "nobody@x.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordResetRoundTrip(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "alice@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	mail, secret := ta.waitForMail(t)
	assert.Equal(t, "alice@x.com", mail.to)
	require.NotEmpty(t, secret)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, u.ResetToken)
	assert.NotEqual(t, secret, *u.ResetToken, "only the hash is stored")

	// the emailed link serves the form
	req := httptest.NewRequest("GET", fmt.Sprintf("/api/users/reset-password?token=%s&id=%d", secret, u.ID), nil)
	formRec := httptest.NewRecorder()
	ta.router.ServeHTTP(formRec, req)
	require.Equal(t, http.StatusOK, formRec.Code)
	assert.Contains(t, formRec.Body.String(), secret)

	// the form posts urlencoded
	form := fmt.Sprintf("id=%d&token=%s&password=pw2", u.ID, secret)
	req = httptest.NewRequest("POST", "/api/users/reset-password", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postRec := httptest.NewRecorder()
	ta.router.ServeHTTP(postRec, req)
	require.Equal(t, http.StatusOK, postRec.Code, postRec.Body.String())

	ta.login(t, "alice@x.com", "pw2")

	// single use: the same secret is spent
	req = httptest.NewRequest("POST", "/api/users/reset-password", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	again := httptest.NewRecorder()
	ta.router.ServeHTTP(again, req)
	assert.Equal(t, http.StatusBadRequest, again.Code)

	u, err = ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	assert.Nil(t, u.ResetToken)
	assert.Nil(t, u.ResetTokenExpires)
}

func TestPasswordResetJSONBody(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "alice@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, secret := ta.waitForMail(t)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)

	rec = ta.doJSON(t, "POST", "/api/users/reset-password", "", map[string]interface{}{
		"id": u.ID, "token": secret, "password": "pw3",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ta.login(t, "alice@x.com", "pw3")
}

func TestPasswordResetWrongSecret(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "alice@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	ta.waitForMail(t)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)

	rec = ta.doJSON(t, "POST", "/api/users/reset-password", "", map[string]interface{}{
		"id": u.ID, "token": "deadbeef", "password": "pw2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_RESET_TOKEN")
}

func TestPasswordResetRepeatRequestInvalidatesOldSecret(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "alice@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, first := ta.waitForMail(t)

	rec = ta.doJSON(t, "POST", "/api/users/forgot-password", "", map[string]string{"email": "alice@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, second := ta.waitForMail(t)

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)

	rec = ta.doJSON(t, "POST", "/api/users/reset-password", "", map[string]interface{}{
		"id": u.ID, "token": first, "password": "pw2",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/users/reset-password", "", map[string]interface{}{
		"id": u.ID, "token": second, "password": "pw2",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyResetSecretExpiryBoundary(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)
	secret, err := ta.startPasswordReset(u)
	require.NoError(t, err)

	u, err = ta.store.GetUserByID(u.ID)
	require.NoError(t, err)
	hash := *u.ResetToken

	// still inside the window
	require.NoError(t, ta.store.SetResetToken(u.ID, hash, time.Now().Add(time.Second).UnixMilli()))
	got, err := ta.verifyResetSecret(u.ID, secret)
	require.NoError(t, err)
	assert.NotNil(t, got)

	// just past it
	require.NoError(t, ta.store.SetResetToken(u.ID, hash, time.Now().Add(-time.Second).UnixMilli()))
	got, err = ta.verifyResetSecret(u.ID, secret)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAdminFlow(t *testing.T) {
	ta := newTestApp(t)
	ta.register(t, "alice", "alice@x.com", "pw1")

	rec := ta.doJSON(t, "POST", "/api/admin/register", "", map[string]string{
		"username": "root", "password": "adminpw",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// duplicate admin username
	rec = ta.doJSON(t, "POST", "/api/admin/register", "", map[string]string{
		"username": "root", "password": "adminpw",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/admin/login", "", map[string]string{
		"username": "nobody", "password": "adminpw",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/admin/login", "", map[string]string{
		"username": "root", "password": "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/admin/login", "", map[string]string{
		"username": "root", "password": "adminpw",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	rec = ta.doJSON(t, "GET", "/api/admin/users", out.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0]["username"])

	u, err := ta.store.GetUserByEmail("alice@x.com")
	require.NoError(t, err)

	rec = ta.doJSON(t, "PATCH", fmt.Sprintf("/api/admin/users/%d", u.ID), out.Token, map[string]string{
		"username": "alicia", "email": "alicia@x.com",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.doJSON(t, "DELETE", fmt.Sprintf("/api/admin/users/%d", u.ID), out.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.doJSON(t, "POST", "/api/users/login", "", map[string]string{
		"email": "alicia@x.com", "password": "pw1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	ta := newTestApp(t)
	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		ta.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

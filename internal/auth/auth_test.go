package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProvider struct {
	authErr      error
	loginURL     string
	loginURLErr  error
	handleLogin  func(w http.ResponseWriter, r *http.Request) error
	handleLogout func(w http.ResponseWriter, r *http.Request) error
}

func (p fakeProvider) Authenticate(r *http.Request) (*User, error) {
	if p.authErr != nil {
		return nil, p.authErr
	}
	return &User{ID: "u"}, nil
}
func (p fakeProvider) LoginURL(r *http.Request) (string, error) { return p.loginURL, p.loginURLErr }
func (p fakeProvider) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	if p.handleLogin != nil {
		return p.handleLogin(w, r)
	}
	return nil
}
func (p fakeProvider) HandleCallback(w http.ResponseWriter, r *http.Request) error { return nil }
func (p fakeProvider) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	if p.handleLogout != nil {
		return p.handleLogout(w, r)
	}
	return nil
}
func (p fakeProvider) ClearSession(w http.ResponseWriter, r *http.Request) {}

func TestMiddleware_NilProviderPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestMiddleware_RedirectsWhenLoginURLSucceeds(t *testing.T) {
	provider := fakeProvider{authErr: ErrSessionInvalid, loginURL: "/auth/login"}
	handler := Middleware(provider, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run on auth failure")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/auth/login", w.Header().Get("Location"))
}

// A provider with no login redirect (password auth) must fall back to
// HandleLogin rather than 500, so the caller sees the provider's own
// in-place challenge (e.g. a 401 WWW-Authenticate header).
func TestMiddleware_FallsBackToHandleLoginWhenLoginURLErrors(t *testing.T) {
	provider := fakeProvider{
		authErr:     ErrSessionInvalid,
		loginURLErr: errors.New("no login redirect"),
		handleLogin: func(w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return nil
		},
	}
	handler := Middleware(provider, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run on auth failure")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestMiddleware_HandleLoginFailureIs500(t *testing.T) {
	provider := fakeProvider{
		authErr:     ErrSessionInvalid,
		loginURLErr: errors.New("no login redirect"),
		handleLogin: func(w http.ResponseWriter, r *http.Request) error {
			return errors.New("boom")
		},
	}
	handler := Middleware(provider, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run on auth failure")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMiddleware_SuccessAttachesUserToContext(t *testing.T) {
	provider := fakeProvider{}
	var gotUser *User
	handler := Middleware(provider, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if assert.NotNil(t, gotUser) {
		assert.Equal(t, "u", gotUser.ID)
	}
}

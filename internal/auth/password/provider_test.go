package password

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gwlsn/av1superd/internal/auth"
)

func TestAuthenticate_ValidBasicCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)

	p, err := NewProvider("admin", string(hash), "bcrypt")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	r.SetBasicAuth("admin", "hunter2")

	user, err := p.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "admin", user.ID)
}

func TestAuthenticate_WrongPasswordRejected(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)

	p, err := NewProvider("admin", string(hash), "bcrypt")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	r.SetBasicAuth("admin", "wrong")

	_, err = p.Authenticate(r)
	require.Error(t, err)
}

func TestAuthenticate_MissingCredentialsRejected(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	p, err := NewProvider("admin", string(hash), "bcrypt")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	_, err = p.Authenticate(r)
	require.Error(t, err)
}

func TestHandleLogin_IssuesBasicChallenge(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	p, err := NewProvider("admin", string(hash), "bcrypt")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, p.HandleLogin(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestNewProvider_RejectsMissingFields(t *testing.T) {
	_, err := NewProvider("", "hash", "bcrypt")
	require.Error(t, err)
	_, err = NewProvider("admin", "", "bcrypt")
	require.Error(t, err)
	_, err = NewProvider("admin", "hash", "rot13")
	require.Error(t, err)
}

func TestMiddleware_UnauthenticatedRequestGetsBasicChallengeNot500(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	p, err := NewProvider("admin", string(hash), "bcrypt")
	require.NoError(t, err)

	handler := auth.Middleware(p, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run for an unauthenticated request")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestDetectHashAlgo(t *testing.T) {
	assert.Equal(t, "bcrypt", detectHashAlgo("$2a$10$abc"))
	assert.Equal(t, "argon2id", detectHashAlgo("$argon2id$v=19$m=65536,t=3,p=2$salt$hash"))
}

// Package auth defines the pluggable authentication contract shared by
// the password and oidc providers that can guard the metrics endpoint.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrSessionInvalid is returned when a session cookie cannot be verified.
var ErrSessionInvalid = errors.New("auth: invalid session")

// ErrSessionExpired is returned when a session cookie has expired.
var ErrSessionExpired = errors.New("auth: session expired")

// User is the authenticated identity attached to a request's context.
type User struct {
	ID    string
	Name  string
	Email string
}

// Provider is implemented by each supported auth mode.
type Provider interface {
	// Authenticate validates the incoming request's session and returns
	// the authenticated user, or one of ErrSessionInvalid/ErrSessionExpired.
	Authenticate(r *http.Request) (*User, error)
	// LoginURL returns where to send an unauthenticated request.
	LoginURL(r *http.Request) (string, error)
	// HandleLogin serves the login flow's entry point.
	HandleLogin(w http.ResponseWriter, r *http.Request) error
	// HandleCallback completes a redirect-based flow (OIDC); password
	// auth returns an error since it has no callback step.
	HandleCallback(w http.ResponseWriter, r *http.Request) error
	// HandleLogout clears the session and redirects appropriately.
	HandleLogout(w http.ResponseWriter, r *http.Request) error
	// ClearSession removes the session cookie without a redirect.
	ClearSession(w http.ResponseWriter, r *http.Request)
}

type contextKey int

const userContextKey contextKey = iota

// UserFromContext returns the authenticated user stashed by Middleware,
// if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok
}

// Middleware guards next with provider's session check. On success the
// authenticated User is attached to the request context; on failure the
// request is sent to the provider's login flow. Providers with a
// redirect-based login (oidc) return a URL from LoginURL; providers with
// no redirect (password, which challenges in place) return an error from
// LoginURL, so Middleware falls back to calling HandleLogin directly.
func Middleware(provider Provider, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := provider.Authenticate(r)
		if err != nil {
			loginURL, lerr := provider.LoginURL(r)
			if lerr != nil {
				if herr := provider.HandleLogin(w, r); herr != nil {
					http.Error(w, "auth unavailable", http.StatusInternalServerError)
				}
				return
			}
			http.Redirect(w, r, loginURL, http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

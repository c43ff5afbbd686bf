// Package password implements HTTP Basic auth against a single configured
// username/hash pair, guarding the read-only metrics endpoint.
package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gwlsn/av1superd/internal/auth"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Provider implements password-based authentication using HTTP Basic
// credentials, since the metrics endpoint is a machine-readable JSON API
// with no browser login page to redirect to.
type Provider struct {
	username string
	hash     string
	hashAlgo string
}

// NewProvider creates a password auth provider for a single operator
// account.
func NewProvider(username, hash, hashAlgo string) (*Provider, error) {
	if username == "" {
		return nil, errors.New("password auth requires a username")
	}
	if hash == "" {
		return nil, errors.New("password auth requires a password hash")
	}
	normalized := strings.ToLower(strings.TrimSpace(hashAlgo))
	if normalized == "" {
		normalized = "auto"
	}
	switch normalized {
	case "auto", "bcrypt", "argon2id", "argon2i":
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", hashAlgo)
	}
	return &Provider{username: username, hash: hash, hashAlgo: normalized}, nil
}

// Authenticate checks the request's HTTP Basic credentials.
func (p *Provider) Authenticate(r *http.Request) (*auth.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, auth.ErrSessionInvalid
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(p.username)) != 1 {
		return nil, auth.ErrSessionInvalid
	}
	ok, err := p.verifyPassword(password)
	if err != nil || !ok {
		return nil, auth.ErrSessionInvalid
	}
	return &auth.User{ID: username, Name: username}, nil
}

// LoginURL has no meaning for Basic auth; Middleware instead relies on
// the 401 challenge issued by HandleLogin.
func (p *Provider) LoginURL(_ *http.Request) (string, error) {
	return "", errors.New("password auth has no login redirect; use the WWW-Authenticate challenge")
}

// HandleLogin issues the Basic auth challenge.
func (p *Provider) HandleLogin(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("WWW-Authenticate", `Basic realm="av1superd metrics"`)
	w.WriteHeader(http.StatusUnauthorized)
	return nil
}

// HandleCallback is not used by Basic auth.
func (p *Provider) HandleCallback(_ http.ResponseWriter, _ *http.Request) error {
	return errors.New("password auth does not support callbacks")
}

// HandleLogout re-issues the Basic auth challenge; there is no server-side
// session to clear.
func (p *Provider) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	return p.HandleLogin(w, r)
}

// ClearSession is a no-op for Basic auth.
func (p *Provider) ClearSession(_ http.ResponseWriter, _ *http.Request) {}

func (p *Provider) verifyPassword(password string) (bool, error) {
	algo := p.hashAlgo
	if algo == "auto" {
		algo = detectHashAlgo(p.hash)
	}
	switch algo {
	case "bcrypt":
		if err := bcrypt.CompareHashAndPassword([]byte(p.hash), []byte(password)); err != nil {
			return false, nil
		}
		return true, nil
	case "argon2id", "argon2i":
		return verifyArgon2(password, p.hash)
	default:
		return false, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

func detectHashAlgo(hash string) string {
	switch {
	case strings.HasPrefix(hash, "$2a$"),
		strings.HasPrefix(hash, "$2b$"),
		strings.HasPrefix(hash, "$2y$"):
		return "bcrypt"
	case strings.HasPrefix(hash, "$argon2id$"):
		return "argon2id"
	case strings.HasPrefix(hash, "$argon2i$"):
		return "argon2i"
	}
	return "bcrypt"
}

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	keyLength   uint32
}

func verifyArgon2(password, encodedHash string) (bool, error) {
	variant, params, salt, hash, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}
	var derived []byte
	switch variant {
	case "argon2id":
		derived = argon2.IDKey([]byte(password), salt, params.iterations, params.memory, params.parallelism, params.keyLength)
	case "argon2i":
		derived = argon2.Key([]byte(password), salt, params.iterations, params.memory, params.parallelism, params.keyLength)
	default:
		return false, errors.New("unsupported argon2 variant")
	}
	if subtle.ConstantTimeCompare(hash, derived) != 1 {
		return false, nil
	}
	return true, nil
}

func decodeArgon2Hash(encodedHash string) (string, argon2Params, []byte, []byte, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) < 6 {
		return "", argon2Params{}, nil, nil, errors.New("invalid argon2 hash format")
	}
	if parts[1] != "argon2id" && parts[1] != "argon2i" {
		return "", argon2Params{}, nil, nil, errors.New("unsupported argon2 variant")
	}
	if !strings.HasPrefix(parts[2], "v=") {
		return "", argon2Params{}, nil, nil, errors.New("invalid argon2 version")
	}
	paramParts := strings.Split(parts[3], ",")
	params := argon2Params{}
	for _, part := range paramParts {
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			return "", argon2Params{}, nil, nil, errors.New("invalid argon2 params")
		}
		value, err := strconv.ParseUint(keyVal[1], 10, 32)
		if err != nil {
			return "", argon2Params{}, nil, nil, errors.New("invalid argon2 params")
		}
		switch keyVal[0] {
		case "m":
			params.memory = uint32(value)
		case "t":
			params.iterations = uint32(value)
		case "p":
			params.parallelism = uint8(value)
		}
	}
	if params.memory == 0 || params.iterations == 0 || params.parallelism == 0 {
		return "", argon2Params{}, nil, nil, errors.New("invalid argon2 params")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", argon2Params{}, nil, nil, errors.New("invalid argon2 salt")
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return "", argon2Params{}, nil, nil, errors.New("invalid argon2 hash")
	}
	params.keyLength = uint32(len(hash))
	return parts[1], params, salt, hash, nil
}

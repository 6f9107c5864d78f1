// Package auth implements the single-operator login used by the control API.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
	ErrNoPassword         = errors.New("auth enabled but no password configured")
)

// Config holds the operator account and token settings
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"` // plaintext or bcrypt hash
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// Authenticator checks the operator login and issues API tokens. With
// authentication disabled every request is let through by the middleware.
type Authenticator struct {
	enabled  bool
	username string
	hash     []byte
	tokens   *JWTManager
}

// NewAuthenticator builds an authenticator from cfg. A plaintext password is
// hashed once here and never kept.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  cfg.Enabled,
		username: cfg.Username,
		tokens:   NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry),
	}
	if a.username == "" {
		a.username = "admin"
	}
	if !cfg.Enabled {
		return a, nil
	}

	switch {
	case cfg.Password == "":
		return nil, ErrNoPassword
	case looksLikeBcrypt(cfg.Password):
		if _, err := bcrypt.Cost([]byte(cfg.Password)); err != nil {
			return nil, err
		}
		a.hash = []byte(cfg.Password)
	default:
		hash, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
		a.hash = []byte(hash)
	}
	return a, nil
}

func looksLikeBcrypt(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// IsEnabled reports whether logins are required
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks the operator credentials and returns a signed token and
// its expiry. The password hash is always compared so a wrong username costs
// the same as a wrong password.
func (a *Authenticator) Authenticate(username, password string) (string, time.Time, error) {
	if !a.enabled {
		return "", time.Time{}, ErrAuthDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return a.tokens.GenerateToken(a.username)
}

// ValidateToken verifies an API token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.ValidateToken(token)
}

// HashPassword returns the bcrypt hash to put in auth.password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

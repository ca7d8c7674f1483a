// Package adminauth gates the admin surface behind a shared password. A
// successful login sets a signed, HTTP-only session cookie.
package adminauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "admin_token"
	issuer     = "storefront-admin"
	subject    = "admin"
)

var (
	ErrNotConfigured  = errors.New("admin password is not configured")
	ErrBadPassword    = errors.New("invalid password")
	ErrInvalidSession = errors.New("invalid or expired session")
)

type Sessions struct {
	password []byte
	key      []byte
	ttl      time.Duration
	now      func() time.Time

	// Secure marks the cookie Secure. Disable only for plain-HTTP local runs.
	Secure bool
}

// NewSessions derives the signing key from password. password is either the
// plain secret or its bcrypt hash. An empty password rejects every login.
func NewSessions(password string, ttl time.Duration) *Sessions {
	sum := sha256.Sum256([]byte("storefront-admin-session:" + password))
	return &Sessions{
		password: []byte(password),
		key:      sum[:],
		ttl:      ttl,
		now:      time.Now,
		Secure:   true,
	}
}

// Issue checks password and returns a signed session token.
func (s *Sessions) Issue(password string) (string, time.Time, error) {
	if len(s.password) == 0 {
		return "", time.Time{}, ErrNotConfigured
	}
	if !s.matches(password) {
		return "", time.Time{}, ErrBadPassword
	}
	now := s.now()
	exp := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *Sessions) matches(password string) bool {
	if isBcrypt(s.password) {
		return bcrypt.CompareHashAndPassword(s.password, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), s.password) == 1
}

func isBcrypt(b []byte) bool {
	h := string(b)
	return len(h) == 60 && (strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$"))
}

// Verify accepts only tokens signed by this instance that have not expired.
func (s *Sessions) Verify(token string) error {
	if len(s.password) == 0 || token == "" {
		return ErrInvalidSession
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return ErrInvalidSession
	}
	return nil
}

// Login sets the session cookie on w when password matches.
func (s *Sessions) Login(w http.ResponseWriter, password string) error {
	tok, _, err := s.Issue(password)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout expires the session cookie.
func (s *Sessions) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Authenticated reports whether r carries a valid session cookie.
func (s *Sessions) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return s.Verify(c.Value) == nil
}

// Require rejects requests without a valid session with 401 {message}.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Authenticated(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

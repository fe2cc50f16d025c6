// Package auth issues and verifies the JWT bearer tokens that protect the
// API surface.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensyndicate/syndicate/internal/config"
)

var (
	// ErrInvalidCredentials is returned when a login attempt fails. The
	// message is deliberately identical for unknown users and wrong
	// passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidToken is returned for expired, malformed, or tampered
	// tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the identity minted into each token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager validates static credentials and mints HS256 tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	users  map[string][]byte
}

// NewManager builds a Manager from configuration. Passwords are configured
// as bcrypt hashes, never plaintext.
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	users := make(map[string][]byte, len(cfg.Users))
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("user entries require username and password_hash")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("password hash for %q is not bcrypt: %w", u.Username, err)
		}
		users[u.Username] = []byte(u.PasswordHash)
	}
	ttl := cfg.TokenTTL()
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		issuer: cfg.Issuer,
		users:  users,
	}, nil
}

// Authenticate checks a username/password pair against the configured users
// and returns a signed token on success.
func (m *Manager) Authenticate(username, password string) (string, error) {
	hash, ok := m.users[username]
	if !ok {
		// Burn a bcrypt comparison so unknown users cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword(placeholderHash, []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return m.mint(username)
}

// mint signs a token for the given username.
func (m *Manager) mint(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject anything but HMAC to prevent algorithm confusion.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TTL reports the configured token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("authorization header must be a bearer token")
	}
	return parts[1], nil
}

// placeholderHash is a valid bcrypt hash compared against for unknown users
// to keep failure timing uniform.
var placeholderHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("placeholder"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()

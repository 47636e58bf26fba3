package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	RegisterAdapterType("basic", newBasicAdapter)
}

// basicUser is one entry of a basic adapter's configured user table.
// Config.Fields carries it pre-hashed as "username:bcryptHash" pairs
// joined by ";" — the adapter never sees a plaintext password at
// construction time.
type basicUser struct {
	username     string
	passwordHash string
}

// basicAdapter is the one concrete reference Adapter (spec.md §1): bcrypt
// for password verification, the way the teacher's sqlite.go does it, and
// JWT-issued bearer tokens instead of the teacher's stubbed-out session
// token.
type basicAdapter struct {
	users      map[string]basicUser
	signingKey []byte
	ttl        time.Duration
}

func newBasicAdapter(cfg Config) (Adapter, error) {
	key := cfg.Fields["signingKey"]
	if key == "" {
		return nil, fmt.Errorf("basic adapter: signingKey is required")
	}

	users := make(map[string]basicUser)
	for _, pair := range strings.Split(cfg.Fields["users"], ";") {
		if pair == "" {
			continue
		}
		username, hash, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("basic adapter: malformed users entry %q", pair)
		}
		users[username] = basicUser{username: username, passwordHash: hash}
	}

	ttl := 24 * time.Hour
	if raw := cfg.Fields["ttl"]; raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("basic adapter: invalid ttl %q: %w", raw, err)
		}
		ttl = parsed
	}

	return &basicAdapter{users: users, signingKey: []byte(key), ttl: ttl}, nil
}

func (a *basicAdapter) Type() string { return "basic" }

type basicClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

func (a *basicAdapter) Login(ctx context.Context, credentials map[string]string) (*Token, error) {
	username, password := credentials["username"], credentials["password"]
	user, ok := a.users[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	now := time.Now()
	claims := basicClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return nil, fmt.Errorf("basic adapter: signing token: %w", err)
	}
	return &Token{Value: signed, UserID: username, Username: username}, nil
}

func (a *basicAdapter) ValidateToken(ctx context.Context, tokenStr string) (*Token, error) {
	var claims basicClaims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Token{Value: tokenStr, UserID: claims.Subject, Username: claims.Username}, nil
}

// HandleCallback is unsupported for basic auth; there is no redirect flow
// to complete. Non-goal per spec.md §1 (only OAuth-style providers use
// this method).
func (a *basicAdapter) HandleCallback(ctx context.Context, params map[string]string) (*Token, error) {
	return nil, fmt.Errorf("basic adapter: %w", ErrUnknownAuthProvider)
}

// Package auth implements the Auth Manager (spec.md §4.8): registry-
// dispatched credential providers sharing one token storage backend.
package auth

import "context"

// Config is one configured provider (spec.md §4.8: "a list of AuthConfig
// entries ({type, fields})").
type Config struct {
	Type   string
	Fields map[string]string
}

// Token is what a successful login or validation yields.
type Token struct {
	Value    string
	UserID   string
	Username string
}

// Adapter is the contract every credential provider implements. basic
// (basic_adapter.go) is the one concrete reference implementation; LDAP
// and OAuth providers are an explicit non-goal (spec.md §1 — only the
// contract is specified).
type Adapter interface {
	Type() string
	Login(ctx context.Context, credentials map[string]string) (*Token, error)
	ValidateToken(ctx context.Context, token string) (*Token, error)
	HandleCallback(ctx context.Context, params map[string]string) (*Token, error)
}

// AdapterFactory builds an Adapter from its Config.
type AdapterFactory func(cfg Config) (Adapter, error)

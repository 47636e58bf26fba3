package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/datacollect/core/internal/logging"
	"github.com/sirupsen/logrus"
)

// registry holds registered adapter factories, the same shape as
// internal/idp/provider.go's RegisterProvider/NewProvider pair.
var registry = map[string]AdapterFactory{}

// RegisterAdapterType registers a factory for a given Config.Type string.
func RegisterAdapterType(providerType string, factory AdapterFactory) {
	registry[providerType] = factory
}

// Manager is the Auth Manager (spec.md §4.8): holds a list of Config
// entries, instantiates the matching Adapter for each (caching the
// instance, the way internal/idp/manager.go caches Provider instances in
// Manager.providers), and shares one StorageAdapter across all of them.
type Manager struct {
	configs  []Config
	storage  StorageAdapter
	tenantID string

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// New constructs a Manager for configs, sharing storage across providers.
func New(storage StorageAdapter, configs []Config, tenantID string) *Manager {
	return &Manager{
		storage: storage, configs: configs, tenantID: tenantID,
		adapters: make(map[string]Adapter, len(configs)),
	}
}

func (m *Manager) logger() *logrus.Entry {
	return logging.ForTenant("auth", m.tenantID)
}

func (m *Manager) configFor(providerType string) (Config, bool) {
	for _, c := range m.configs {
		if c.Type == providerType {
			return c, true
		}
	}
	return Config{}, false
}

func (m *Manager) adapterFor(providerType string) (Adapter, error) {
	m.mu.RLock()
	if a, ok := m.adapters[providerType]; ok {
		m.mu.RUnlock()
		return a, nil
	}
	m.mu.RUnlock()

	cfg, ok := m.configFor(providerType)
	if !ok {
		return nil, ErrUnknownAuthProvider
	}
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, ErrUnknownAuthProvider
	}
	adapter, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth: constructing %s adapter: %w", cfg.Type, err)
	}

	m.mu.Lock()
	m.adapters[providerType] = adapter
	m.mu.Unlock()
	return adapter, nil
}

// Login dispatches to the named provider type, or the sole configured
// provider if providerType is empty and exactly one is configured.
func (m *Manager) Login(ctx context.Context, credentials map[string]string, providerType string) (*Token, error) {
	if providerType == "" {
		if len(m.configs) != 1 {
			return nil, fmt.Errorf("%w: provider type required when more than one is configured", ErrUnknownAuthProvider)
		}
		providerType = m.configs[0].Type
	}

	adapter, err := m.adapterFor(providerType)
	if err != nil {
		return nil, err
	}

	token, err := adapter.Login(ctx, credentials)
	if err != nil {
		return nil, err
	}
	if err := m.storage.SetToken(ctx, providerType, token.Value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if token.Username != "" {
		if err := m.storage.SetUsername(ctx, token.Username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	m.logger().WithField("provider", providerType).Info("login succeeded")
	return token, nil
}

// Logout clears every stored token for this tenant.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.storage.RemoveAllTokens(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// IsAuthenticated reports whether any configured provider's stored token
// currently validates (spec.md §4.8: "when multiple providers are
// configured, isAuthenticated returns true iff any provider's stored
// token validates").
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	for _, cfg := range m.configs {
		token, ok, err := m.storage.GetTokenByProvider(ctx, cfg.Type)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		if !ok {
			continue
		}
		adapter, err := m.adapterFor(cfg.Type)
		if err != nil {
			continue
		}
		if _, err := adapter.ValidateToken(ctx, token); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// ValidateToken checks token against the named provider type.
func (m *Manager) ValidateToken(ctx context.Context, providerType, token string) (*Token, error) {
	adapter, err := m.adapterFor(providerType)
	if err != nil {
		return nil, err
	}
	return adapter.ValidateToken(ctx, token)
}

// HandleCallback completes a provider-initiated flow (e.g. OAuth
// redirect) for the named provider type.
func (m *Manager) HandleCallback(ctx context.Context, providerType string, params map[string]string) (*Token, error) {
	adapter, err := m.adapterFor(providerType)
	if err != nil {
		return nil, err
	}
	token, err := adapter.HandleCallback(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := m.storage.SetToken(ctx, providerType, token.Value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return token, nil
}

// CurrentToken returns one stored token, for callers that just need a
// bearer value without caching it themselves. When tokens for several
// providers are stored, the storage adapter picks which one: PebbleAdapter
// returns the last by provider type in key order, PostgresAdapter the first
// by provider type.
func (m *Manager) CurrentToken(ctx context.Context) (string, error) {
	token, ok, err := m.storage.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !ok {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

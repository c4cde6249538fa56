package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/baymax-09/roobet-casino-sub000/pkg/crypto"
)

// ErrSecretNotFound is returned when a provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// Provider reads secrets by key
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

// CachedProvider memoizes another provider for ttl
type CachedProvider struct {
	provider Provider
	mu       sync.RWMutex
	cache    map[string]cachedSecret
	ttl      time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewCachedProvider(provider Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string]cachedSecret),
		ttl:      ttl,
	}
}

func (p *CachedProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	value, err := p.provider.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedSecret{value: value, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return value, nil
}

// encryptedPrefix marks a value sealed with crypto.Encrypt
const encryptedPrefix = "enc:"

// Manager resolves the signing material of the settlement service. Values
// prefixed with "enc:" are decrypted with the configured encryption key.
type Manager struct {
	provider      Provider
	encryptionKey string
}

func NewManager(provider Provider, encryptionKey string) *Manager {
	return &Manager{provider: provider, encryptionKey: encryptionKey}
}

// GetMnemonic returns the HD master mnemonic stored under key
func (m *Manager) GetMnemonic(ctx context.Context, key string) (string, error) {
	return m.get(ctx, key)
}

// GetRippleSecret returns the Ripple treasury signing secret stored under key
func (m *Manager) GetRippleSecret(ctx context.Context, key string) (string, error) {
	return m.get(ctx, key)
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	value, err := m.provider.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(value, encryptedPrefix) {
		return strings.TrimSpace(value), nil
	}
	if m.encryptionKey == "" {
		return "", fmt.Errorf("secret %s is encrypted but no encryption key is configured", key)
	}
	plain, err := crypto.Decrypt(strings.TrimPrefix(value, encryptedPrefix), m.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s: %w", key, err)
	}
	return strings.TrimSpace(plain), nil
}

// Package credstore persists the access token and E2EE secret outside the
// engine. Backends are selected by DSN.
package credstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	DefaultService = "pushmirror"

	KeyAccessToken = "access_token"
	KeyE2EESecret  = "e2ee_secret"
)

var ErrInvalidDSN = errors.New("invalid credential store dsn")

// Store is a small keychain: string values addressed by (service, key).
type Store interface {
	Get(service, key string) (string, bool, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// Factory builds a Store for a DSN whose scheme it was registered for.
type Factory func(dsn string) (Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory makes Open route scheme to factory, taking precedence over
// the built-in backends.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// Open builds the store named by dsn: file://<path> (or a bare path) and
// memory:// are built in. OS keychains plug in through RegisterFactory.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidDSN, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidDSN
	}
	return path, nil
}

// Credentials is what the engine needs from a store.
type Credentials struct {
	AccessToken string
	E2EESecret  string
}

// Load reads both credentials for service. Missing entries are empty.
func Load(s Store, service string) (Credentials, error) {
	var creds Credentials
	token, _, err := s.Get(service, KeyAccessToken)
	if err != nil {
		return creds, fmt.Errorf("read access token: %w", err)
	}
	secret, _, err := s.Get(service, KeyE2EESecret)
	if err != nil {
		return creds, fmt.Errorf("read e2ee secret: %w", err)
	}
	creds.AccessToken = strings.TrimSpace(token)
	creds.E2EESecret = secret
	return creds, nil
}

package kbemu

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type StateBackendFactory func(dsn string) (StateBackend, error)

var stateFactories = struct {
	mu        sync.RWMutex
	factories map[string]StateBackendFactory
}{factories: map[string]StateBackendFactory{}}

// RegisterStateBackendFactory makes scheme available to
// BuildStateBackendFromDSN. Registered factories take precedence over the
// built-in schemes.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	stateFactories.mu.Lock()
	defer stateFactories.mu.Unlock()
	stateFactories.factories[scheme] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	stateFactories.mu.RLock()
	defer stateFactories.mu.RUnlock()
	factory, ok := stateFactories.factories[normalizeBackendScheme(scheme)]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildStateBackendFromDSN picks a backend from the DSN scheme. An empty
// DSN yields an in-memory backend; a bare path is a JSON file.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryStateBackend(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: state dsn: %v", ErrInvalidInput, err)
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupStateBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewJSONFileStateBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryStateBackend(), nil
	case "sqlite", "sqlite3":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		backend, err := NewSQLiteStateBackend(path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "postgres", "postgresql":
		backend, err := NewPostgresStateBackend(dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("%w: unsupported state backend scheme %q", ErrInvalidInput, scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: state dsn %q has no path", ErrInvalidInput, raw)
	}
	return path, nil
}

package relay

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type UpdateQueueFactory func(dsn string, capacity int) (UpdateQueue, error)

var queueFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]UpdateQueueFactory
}{
	factories: map[string]UpdateQueueFactory{},
}

// RegisterUpdateQueueFactory makes a custom DSN scheme available to
// BuildUpdateQueueFromDSN. Registered schemes take precedence over the
// built-in ones.
func RegisterUpdateQueueFactory(scheme string, factory UpdateQueueFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	queueFactoryRegistry.mu.Lock()
	defer queueFactoryRegistry.mu.Unlock()
	queueFactoryRegistry.factories[scheme] = factory
}

func lookupUpdateQueueFactory(scheme string) (UpdateQueueFactory, bool) {
	scheme = normalizeScheme(scheme)
	queueFactoryRegistry.mu.RLock()
	defer queueFactoryRegistry.mu.RUnlock()
	factory, ok := queueFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildUpdateQueueFromDSN picks a queue backend by DSN scheme. An empty DSN
// yields an in-memory queue.
func BuildUpdateQueueFromDSN(dsn string, capacity int) (UpdateQueue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryUpdateQueue(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupUpdateQueueFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileUpdateQueue(path, capacity)
	case "memory", "mem", "inmem":
		return NewInMemoryUpdateQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresUpdateQueue(dsn, capacity)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: update queue backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported update queue scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
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
		return "", ErrInvalidInput
	}
	return path, nil
}

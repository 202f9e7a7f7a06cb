package guestdesk

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStoreFromDSN constructs a Store from a scheme-prefixed DSN.
// postgres:// is the production backend; memory:// serves dev profiles
// and tests.
func BuildStoreFromDSN(dsn string) (Store, error) {
	scheme, err := dsnScheme(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "sqlite", "mysql":
		return nil, fmt.Errorf("%w: store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

// BuildOutboxFromDSN constructs an Outbox from a scheme-prefixed DSN.
func BuildOutboxFromDSN(dsn string) (Outbox, error) {
	scheme, err := dsnScheme(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "postgres", "postgresql":
		return NewPostgresOutbox(dsn)
	case "memory", "mem", "inmem":
		return NewMemoryOutbox(), nil
	case "redis", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: outbox backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported outbox scheme: %s", scheme)
	}
}

// BuildGuardFromDSN constructs a dedup Guard. An empty DSN or the
// literal "none" disables suppression entirely.
func BuildGuardFromDSN(dsn string, logger Logger) (Guard, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" || strings.EqualFold(dsn, "none") {
		return NewNopGuard(), nil
	}
	scheme, err := dsnScheme(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "redis", "rediss":
		return NewRedisGuard(dsn, logger)
	case "memory", "mem", "inmem":
		return NewMemoryGuard(), nil
	default:
		return nil, fmt.Errorf("unsupported guard scheme: %s", scheme)
	}
}

func dsnScheme(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(parsed.Scheme)), nil
}

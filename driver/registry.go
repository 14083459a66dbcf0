package driver

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Options carries driver settings that do not belong in the connection target.
type Options struct {
	VersionTable string
	LogTable     string
}

const (
	DefaultVersionTable = "schema_version"
	DefaultLogTable     = "migrations_log"
)

func (o Options) WithDefaults() Options {
	if o.VersionTable == "" {
		o.VersionTable = DefaultVersionTable
	}
	if o.LogTable == "" {
		o.LogTable = DefaultLogTable
	}
	return o
}

// Target is a parsed connection target.
type Target struct {
	Scheme string
	// Raw is the target as given by the operator.
	Raw string
	// URL is set for URI-form targets.
	URL *url.URL
	// Path is set for file-backed engines.
	Path string
}

// Factory opens a driver for a parsed target.
type Factory func(target Target, opts Options) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine available under one or more schemes. Engines call
// it from init, the same way database/sql drivers do.
func Register(factory Factory, schemes ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, scheme := range schemes {
		if _, dup := registry[scheme]; dup {
			panic(fmt.Sprintf("driver: Register called twice for scheme %q", scheme))
		}
		registry[scheme] = factory
	}
}

// Schemes lists registered schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]string, 0, len(registry))
	for scheme := range registry {
		result = append(result, scheme)
	}
	sort.Strings(result)
	return result
}

var fileSuffixes = []string{".db", ".sqlite", ".sqlite3"}

// ParseTarget reads a connection target:
// <engine>://[user:pass@]host[:port]/name for client/server engines,
// sqlite:////abs/path.db, sqlite:///rel/path.db, file:path.db or a bare path
// ending in .db, .sqlite or .sqlite3 for the embedded engine. As with
// SQLAlchemy URLs, the first slash after sqlite:// separates an empty host
// from the path.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty connection target", ErrUnsupportedScheme)
	}

	if strings.HasPrefix(raw, "file:") {
		path := strings.TrimPrefix(strings.TrimPrefix(raw, "file:"), "//")
		if q := strings.IndexByte(path, '?'); q >= 0 {
			path = path[:q]
		}
		return Target{Scheme: "sqlite", Raw: raw, Path: path}, nil
	}

	if !strings.Contains(raw, "://") {
		for _, suffix := range fileSuffixes {
			if strings.HasSuffix(strings.ToLower(raw), suffix) {
				return Target{Scheme: "sqlite", Raw: raw, Path: filepath.Clean(raw)}, nil
			}
		}
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, redact(raw))
	}

	scheme := strings.ToLower(raw[:strings.Index(raw, "://")])
	if scheme == "sqlite" || scheme == "sqlite3" {
		path := strings.TrimPrefix(raw[len(scheme)+len("://"):], "/")
		if q := strings.IndexByte(path, '?'); q >= 0 {
			path = path[:q]
		}
		if path == "" {
			return Target{}, fmt.Errorf("%w: sqlite target without a path", ErrUnsupportedScheme)
		}
		return Target{Scheme: "sqlite", Raw: raw, Path: path}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, err.Error())
	}

	return Target{Scheme: scheme, Raw: raw, URL: u}, nil
}

// Open parses target and opens the driver registered for its scheme.
func Open(target string, opts Options) (Driver, error) {
	parsed, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	factory, ok := registry[parsed.Scheme]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)",
			ErrUnsupportedScheme, parsed.Scheme, strings.Join(Schemes(), ", "))
	}

	return factory(parsed, opts.WithDefaults())
}

// Redacted returns the target with any password masked, for logs.
func (t Target) Redacted() string {
	return redact(t.Raw)
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

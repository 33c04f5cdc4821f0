package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/gracehost/internal/domain"
)

// DefaultEnvPrefix prefixes every environment variable the store reads.
const DefaultEnvPrefix = "GRACEHOST_"

// confEnvName is the suffix of the variable naming an extra config file.
const confEnvName = "CONF"

// Store is a merged, read-mostly view over the configuration files.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	dir       string
	files     []string
	data      map[string]interface{}
	overrides map[string]interface{}

	envPrefix string
	environ   func() []string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.envPrefix = prefix
	}
}

// WithEnviron replaces os.Environ, mainly for tests.
func WithEnviron(fn func() []string) StoreOption {
	return func(s *Store) {
		s.environ = fn
	}
}

// NewStore creates a store for files inside dir. Nothing is read until Load.
func NewStore(dir string, files []string, opts ...StoreOption) *Store {
	s := &Store{
		dir:       dir,
		files:     append([]string(nil), files...),
		data:      map[string]interface{}{},
		overrides: map[string]interface{}{},
		envPrefix: DefaultEnvPrefix,
		environ:   os.Environ,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromMap creates a store backed by an in-memory map. Load is a no-op on it.
func FromMap(m map[string]interface{}) *Store {
	s := NewStore("", nil)
	s.data = deepCopy(m)
	return s
}

// Dir returns the configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// Paths returns the absolute paths of the files the store reads, including
// the file named by the CONF environment variable.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.files)+1)
	for _, f := range s.files {
		paths = append(paths, s.resolve(f))
	}
	if conf := s.env()[confEnvName]; conf != "" {
		paths = append(paths, s.resolve(conf))
	}
	return paths
}

func (s *Store) resolve(name string) string {
	if filepath.IsAbs(name) || s.dir == "" {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Load reads every file, merges them and applies environment substitutions.
// The previous content is kept if any file fails.
func (s *Store) Load() error {
	if s.dir == "" && len(s.files) == 0 {
		// In-memory store.
		return nil
	}
	if s.dir == "" {
		return fmt.Errorf("%w: path to configuration files not set", domain.ErrConfiguration)
	}
	if info, err := os.Stat(s.dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: configuration directory %s not found", domain.ErrConfiguration, s.dir)
	}
	if len(s.files) == 0 {
		return fmt.Errorf("%w: configuration files not set", domain.ErrConfiguration)
	}

	merged := map[string]interface{}{}
	for _, path := range s.Paths() {
		m, err := readFile(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, path, err)
		}
		merge(merged, m)
	}

	env := s.env()
	substituted := substitute(merged, env).(map[string]interface{})

	s.mu.Lock()
	s.data = substituted
	s.mu.Unlock()
	return nil
}

// env returns prefixed environment variables with the prefix stripped.
func (s *Store) env() map[string]string {
	out := map[string]string{}
	for _, kv := range s.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, s.envPrefix) {
			continue
		}
		out[strings.TrimPrefix(k, s.envPrefix)] = v
	}
	return out
}

func readFile(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".json":
		err = json.Unmarshal(b, &m)
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Set overrides a dotted key. Overrides survive reloads.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	setPath(s.overrides, key, value)
}

func (s *Store) view() map[string]interface{} {
	if len(s.overrides) == 0 {
		return s.data
	}
	out := deepCopy(s.data)
	merge(out, s.overrides)
	return out
}

// Get returns the value at a dotted key, or nil.
func (s *Store) Get(key string) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.view(), key)
}

// Has reports whether a dotted key is present.
func (s *Store) Has(key string) bool {
	return s.Get(key) != nil
}

// String returns the string at key, or "".
func (s *Store) String(key string) string {
	return toString(s.Get(key))
}

// Int returns the integer at key, or 0.
func (s *Store) Int(key string) int {
	return toInt(s.Get(key))
}

// Bool returns the bool at key, or false.
func (s *Store) Bool(key string) bool {
	return toBool(s.Get(key))
}

// Duration returns the duration at key. Strings are parsed with
// time.ParseDuration, numbers are read as milliseconds.
func (s *Store) Duration(key string) time.Duration {
	return toDuration(s.Get(key))
}

// Section returns a copy of the table at key. A missing key yields nil.
func (s *Store) Section(key string) Section {
	v := s.Get(key)
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return Section(deepCopy(m))
}

// All returns a copy of the whole merged configuration.
func (s *Store) All() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.view())
}

package lib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/lib/store"
)

var (
	ErrUnknownStoreBackend = errors.New("lib: unknown store backend")
	ErrBadRateLimit        = errors.New("lib: rate limit settings are invalid")
)

// Duration parses YAML duration strings like "1m30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("can't parse duration %q: %w", raw, err)
	}

	d.Duration = parsed
	return nil
}

// Settings is the optional YAML settings document. Flags and environment
// variables cover the common cases; the file exists for the store backend
// selection and the tunables that don't belong on a command line.
//
//	store:
//	  backend: bbolt
//	  config:
//	    path: /var/lib/linkgate/linkgate.bdb
//	rateLimit:
//	  limit: 10
//	  window: 1m
//	challengeTTL: 2m
type Settings struct {
	Store struct {
		// Backend picks a registered store implementation: memory, bbolt or
		// valkey.
		Backend string `yaml:"backend"`
		// Config is backend-specific and handed to the factory as JSON.
		Config map[string]any `yaml:"config,omitempty"`
	} `yaml:"store"`

	RateLimit struct {
		Limit  int      `yaml:"limit"`
		Window Duration `yaml:"window"`
	} `yaml:"rateLimit"`

	ChallengeTTL Duration `yaml:"challengeTTL"`
}

// DefaultSettings is what an absent settings file means: an in-memory
// store with the standard cap.
func DefaultSettings() *Settings {
	var result Settings
	result.Store.Backend = "memory"
	result.RateLimit.Limit = linkgate.ChallengeRateLimit
	result.RateLimit.Window = Duration{linkgate.ChallengeRateWindow}
	result.ChallengeTTL = Duration{linkgate.ChallengeTTL}
	return &result
}

// LoadSettings reads and validates a settings file, or returns defaults
// when fname is empty.
func LoadSettings(fname string) (*Settings, error) {
	if fname == "" {
		return DefaultSettings(), nil
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open settings file %s: %w", fname, err)
	}
	defer fin.Close()

	return ParseSettings(fin, fname)
}

func ParseSettings(r io.Reader, fname string) (*Settings, error) {
	result := DefaultSettings()

	if err := yaml.NewDecoder(r).Decode(result); err != nil {
		return nil, fmt.Errorf("can't parse settings file %s: %w", fname, err)
	}

	if err := result.Valid(); err != nil {
		return nil, fmt.Errorf("can't validate settings file %s: %w", fname, err)
	}

	return result, nil
}

func (s *Settings) Valid() error {
	var errs []error

	factory, ok := store.Get(s.Store.Backend)
	if !ok {
		errs = append(errs, fmt.Errorf("%w: %q (have: %v)", ErrUnknownStoreBackend, s.Store.Backend, store.Methods()))
	} else if err := factory.Valid(s.storeConfig()); err != nil {
		errs = append(errs, err)
	}

	if s.RateLimit.Limit <= 0 || s.RateLimit.Window.Duration <= 0 {
		errs = append(errs, fmt.Errorf("%w: limit %d window %s", ErrBadRateLimit, s.RateLimit.Limit, s.RateLimit.Window.Duration))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (s *Settings) storeConfig() json.RawMessage {
	if len(s.Store.Config) == 0 {
		return json.RawMessage("{}")
	}

	data, err := json.Marshal(s.Store.Config)
	if err != nil {
		// map[string]any from YAML always marshals; anything else is a bug
		// in the decoder.
		return json.RawMessage("{}")
	}

	return data
}

// BuildStore constructs the configured store backend.
func (s *Settings) BuildStore(ctx context.Context) (store.Interface, error) {
	factory, ok := store.Get(s.Store.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, s.Store.Backend)
	}

	return factory.Build(ctx, s.storeConfig())
}

package entity

import (
	"github.com/argus-labs/entitystore/pkg/component"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// storeConfig holds the configuration for a Store. Configuration can be set via environment
// variables with the specified defaults.
type storeConfig struct {
	// Number of lock stripes commits hash entity ids onto. Must be a power of two.
	LockStripes int `env:"ENTITYSTORE_LOCK_STRIPES" envDefault:"64"`

	// Maximum number of entity ids the store issues. Zero means unbounded.
	MaxEntities uint64 `env:"ENTITYSTORE_MAX_ENTITIES" envDefault:"0"`
}

// loadStoreConfig loads the store configuration from environment variables.
func loadStoreConfig() (storeConfig, error) {
	cfg := storeConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse store config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *storeConfig) validate() error {
	if !isPowerOfTwo(cfg.LockStripes) {
		return eris.Errorf("lock stripes must be a positive power of two, got %d", cfg.LockStripes)
	}
	return nil
}

// applyToOptions applies the configuration values to the given StoreOptions.
func (cfg *storeConfig) applyToOptions(opt *StoreOptions) {
	opt.LockStripes = cfg.LockStripes
	opt.MaxEntities = cfg.MaxEntities
}

type StoreOptions struct {
	LockStripes int                // Number of commit lock stripes, a power of two
	MaxEntities uint64             // Maximum number of issued entity ids, 0 for unbounded
	Components  *component.Manager // Component registry, created when nil
	Logger      *zerolog.Logger    // Logger, defaults to the global console logger
}

// newDefaultStoreOptions creates StoreOptions with default values.
func newDefaultStoreOptions() StoreOptions {
	return StoreOptions{
		LockStripes: 0,
		MaxEntities: 0,
		Components:  nil,
		Logger:      nil,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *StoreOptions) apply(newOpt StoreOptions) {
	if newOpt.LockStripes != 0 {
		opt.LockStripes = newOpt.LockStripes
	}
	if newOpt.MaxEntities != 0 {
		opt.MaxEntities = newOpt.MaxEntities
	}
	if newOpt.Components != nil {
		opt.Components = newOpt.Components
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
}

// validate checks that all required options are set and valid.
func (opt *StoreOptions) validate() error {
	if !isPowerOfTwo(opt.LockStripes) {
		return eris.Errorf("lock stripes must be a positive power of two, got %d", opt.LockStripes)
	}
	if opt.Components != nil && !tracksRefs(opt.Components) {
		return eris.New("component manager must be created with NewComponentManager")
	}
	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func tracksRefs(m *component.Manager) bool {
	for _, kind := range m.ReferenceKinds() {
		if kind == refType {
			return true
		}
	}
	return false
}

// NewComponentManager returns a component manager that tracks Ref fields, as required by Store.
func NewComponentManager() *component.Manager {
	return component.NewManager(component.WithReferenceKind(refType))
}

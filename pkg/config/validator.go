package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() { v = validator.New() })
	return v
}

// validateConfig checks a resolved Config against its struct tags and the
// one cross-field rule the tags can't express: a distributed bus requires
// a database to coordinate through.
func validateConfig(cfg *Config) error {
	if err := instance().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if cfg.DistributedBusEnabled && cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: distributed_bus_enabled requires database_url", ErrValidationFailed)
	}
	return nil
}

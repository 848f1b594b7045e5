package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load resolves the engine's configuration through three layered sources,
// each overriding the last: built-in defaults, an optional YAML defaults
// file, and exported environment variables. A .env file in the working
// directory is loaded first (if present) so its values are visible to the
// environment-variable step; nothing fails if it is absent.
//
// configFile is the path to the optional YAML overlay. Pass "" to skip it.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load() // optional: missing .env is not an error

	defaults := builtinDefaults()

	if configFile != "" {
		if err := mergeFile(configFile, &defaults); err != nil {
			return nil, err
		}
	}

	cfg, err := resolveEnv(defaults)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile reads the YAML overlay at path, expands ${VAR}-style
// references against the process environment, and merges the result over
// dst — set fields in the file win over the built-in defaults already in
// dst, per the same override semantics mergo.WithOverride gives the
// teacher's queue-config merge.
func mergeFile(path string, dst *Defaults) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewLoadError(path, err)
	}

	var file Defaults
	if err := yaml.Unmarshal(ExpandEnv(data), &file); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(dst, file, mergo.WithOverride); err != nil {
		return NewLoadError(path, err)
	}
	return nil
}

// resolveEnv applies the four named environment variables (and the
// ambient ones cmd/engine needs) over defaults, producing the final
// Config.
func resolveEnv(defaults Defaults) (*Config, error) {
	cfg := &Config{
		Port:                  *defaults.Port,
		FinancialLimit:        *defaults.FinancialLimit,
		ConfidenceThreshold:   *defaults.ConfidenceThreshold,
		AutoApprovalEnabled:   *defaults.AutoApprovalEnabled,
		SOPDir:                *defaults.SOPDir,
		ApprovalTimeout:       durationFromHours(*defaults.ApprovalTimeoutHours),
		DistributedBusEnabled: *defaults.DistributedBusEnabled,
	}

	if v, ok := os.LookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, NewFieldError("PORT", err)
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("FINANCIAL_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewFieldError("FINANCIAL_LIMIT", err)
		}
		cfg.FinancialLimit = f
	}
	if v, ok := os.LookupEnv("CONFIDENCE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewFieldError("CONFIDENCE_THRESHOLD", err)
		}
		cfg.ConfidenceThreshold = f
	}
	if v, ok := os.LookupEnv("AUTO_APPROVAL_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, NewFieldError("AUTO_APPROVAL_ENABLED", err)
		}
		cfg.AutoApprovalEnabled = b
	}
	if v, ok := os.LookupEnv("SOP_DIR"); ok {
		cfg.SOPDir = v
	}
	if v, ok := os.LookupEnv("APPROVAL_TIMEOUT_HOURS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewFieldError("APPROVAL_TIMEOUT_HOURS", err)
		}
		cfg.ApprovalTimeout = durationFromHours(f)
	}
	if v, ok := os.LookupEnv("DISTRIBUTED_BUS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, NewFieldError("DISTRIBUTED_BUS_ENABLED", err)
		}
		cfg.DistributedBusEnabled = b
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}

	return cfg, nil
}

func durationFromHours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

package common

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/autowait/env"
	"github.com/liuxd6825/autowait/types"
)

// EngineOptions is the engine-wide configuration shared by every browser
// context created from a Browser.
type EngineOptions struct {
	// TestIDAttribute is the attribute GetByTestID matches on.
	TestIDAttribute null.String        `json:"testIdAttribute" envconfig:"AUTOWAIT_TEST_ID_ATTRIBUTE"`
	DefaultTimeout  types.NullDuration `json:"timeout" envconfig:"AUTOWAIT_TIMEOUT"`
	ExpectTimeout   types.NullDuration `json:"expectTimeout" envconfig:"AUTOWAIT_EXPECT_TIMEOUT"`
	PollInterval    types.NullDuration `json:"pollInterval" envconfig:"AUTOWAIT_POLL_INTERVAL"`
	Strict          null.Bool          `json:"strict" envconfig:"AUTOWAIT_STRICT"`
	SlowMo          types.NullDuration `json:"slowMo" envconfig:"AUTOWAIT_SLOW_MO"`
	TracesDir       null.String        `json:"tracesDir" envconfig:"AUTOWAIT_TRACES_DIR"`
	TracesUploadURL null.String        `json:"tracesUploadURL" envconfig:"AUTOWAIT_TRACES_UPLOAD_URL"`
	LogCategories   null.String        `json:"logCategories" envconfig:"AUTOWAIT_LOG_CATEGORY_FILTER"`
}

// NewEngineOptions returns the default options. None of the values are
// marked valid, so any explicitly set value wins in Apply.
func NewEngineOptions() EngineOptions {
	return EngineOptions{
		TestIDAttribute: null.NewString(DefaultTestIDAttribute, false),
		DefaultTimeout:  types.NewNullDuration(DefaultTimeout, false),
		ExpectTimeout:   types.NewNullDuration(DefaultExpectTimeout, false),
		PollInterval:    types.NewNullDuration(DefaultPollInterval, false),
		Strict:          null.NewBool(true, false),
		SlowMo:          types.NewNullDuration(0, false),
		TracesDir:       null.NewString(DefaultTracesDir, false),
	}
}

// Apply overwrites the options with the valid fields of cfg.
func (o EngineOptions) Apply(cfg EngineOptions) EngineOptions {
	if cfg.TestIDAttribute.Valid && cfg.TestIDAttribute.String != "" {
		o.TestIDAttribute = cfg.TestIDAttribute
	}
	if cfg.DefaultTimeout.Valid {
		o.DefaultTimeout = cfg.DefaultTimeout
	}
	if cfg.ExpectTimeout.Valid {
		o.ExpectTimeout = cfg.ExpectTimeout
	}
	if cfg.PollInterval.Valid {
		o.PollInterval = cfg.PollInterval
	}
	if cfg.Strict.Valid {
		o.Strict = cfg.Strict
	}
	if cfg.SlowMo.Valid {
		o.SlowMo = cfg.SlowMo
	}
	if cfg.TracesDir.Valid && cfg.TracesDir.String != "" {
		o.TracesDir = cfg.TracesDir
	}
	if cfg.TracesUploadURL.Valid {
		o.TracesUploadURL = cfg.TracesUploadURL
	}
	if cfg.LogCategories.Valid {
		o.LogCategories = cfg.LogCategories
	}
	return o
}

// Validate checks the option values.
func (o EngineOptions) Validate() error {
	var errs []error
	if o.PollInterval.Valid && o.PollInterval.TimeDuration() <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", o.PollInterval.Duration))
	}
	if o.DefaultTimeout.Valid && o.DefaultTimeout.TimeDuration() < 0 {
		errs = append(errs, fmt.Errorf("timeout can't be negative, got %s", o.DefaultTimeout.Duration))
	}
	if o.ExpectTimeout.Valid && o.ExpectTimeout.TimeDuration() < 0 {
		errs = append(errs, fmt.Errorf("expect timeout can't be negative, got %s", o.ExpectTimeout.Duration))
	}
	if o.SlowMo.Valid && o.SlowMo.TimeDuration() < 0 {
		errs = append(errs, fmt.Errorf("slow motion can't be negative, got %s", o.SlowMo.Duration))
	}
	if o.LogCategories.Valid && o.LogCategories.String != "" {
		if _, err := regexp.Compile(o.LogCategories.String); err != nil {
			errs = append(errs, fmt.Errorf("invalid log category filter: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ReadEngineOptionsFromEnv reads the AUTOWAIT_* variables.
func ReadEngineOptionsFromEnv(lookup env.LookupFunc) (EngineOptions, error) {
	var envOpts EngineOptions
	if err := envconfig.Process("", &envOpts, lookup); err != nil {
		return envOpts, fmt.Errorf("reading engine options from the environment: %w", err)
	}
	return envOpts, nil
}

// ConsolidateEngineOptions merges the defaults, the environment and the
// explicitly given options, in that order of precedence (last wins).
func ConsolidateEngineOptions(lookup env.LookupFunc, explicit EngineOptions) (EngineOptions, error) {
	result := NewEngineOptions()
	envOpts, err := ReadEngineOptionsFromEnv(lookup)
	if err != nil {
		return result, err
	}
	result = result.Apply(envOpts).Apply(explicit)

	return result, result.Validate()
}

func (o EngineOptions) testIDAttribute() string {
	if o.TestIDAttribute.String == "" {
		return DefaultTestIDAttribute
	}
	return o.TestIDAttribute.String
}

func (o EngineOptions) pollInterval() time.Duration {
	if d := o.PollInterval.TimeDuration(); d > 0 {
		return d
	}
	return DefaultPollInterval
}

func (o EngineOptions) strict() bool {
	if !o.Strict.Valid {
		return true
	}
	return o.Strict.Bool
}

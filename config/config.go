// Package config loads the runtime configuration of procctl and of embedded
// engines from YAML files and PROCESS_* environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	process "github.com/goliatone/go-process"
	"github.com/goliatone/go-process/batch"
	"github.com/goliatone/go-process/job"
	"github.com/goliatone/go-process/persistence"
	"github.com/goliatone/go-process/persistence/bolt"
	"github.com/goliatone/go-process/persistence/memory"
	"github.com/goliatone/go-process/runner"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverBolt   = "bolt"

	FormatJSON = "json"
	FormatText = "text"

	BackoffNone        = "none"
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config is the root configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine" json:"engine"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Executor ExecutorConfig `yaml:"executor" json:"executor"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	History  HistoryConfig  `yaml:"history" json:"history"`
}

// EngineConfig selects the definitions deployed at startup.
type EngineConfig struct {
	Definitions string `yaml:"definitions" json:"definitions"`
	Tenant      string `yaml:"tenant" json:"tenant"`
}

type BatchConfig struct {
	JobsPerSeed         int           `yaml:"jobsPerSeed" json:"jobsPerSeed"`
	InvocationsPerJob   int           `yaml:"invocationsPerJob" json:"invocationsPerJob"`
	MonitorPollInterval time.Duration `yaml:"monitorPollInterval" json:"monitorPollInterval"`
	JobRetries          int           `yaml:"jobRetries" json:"jobRetries"`
}

// ExecutorConfig tunes the job executor.
type ExecutorConfig struct {
	WorkerID              string        `yaml:"workerID" json:"workerID"`
	MaxJobsPerAcquisition int           `yaml:"maxJobsPerAcquisition" json:"maxJobsPerAcquisition"`
	LockTime              time.Duration `yaml:"lockTime" json:"lockTime"`
	Concurrency           int           `yaml:"concurrency" json:"concurrency"`
	PollInterval          time.Duration `yaml:"pollInterval" json:"pollInterval"`
	Backoff               BackoffConfig `yaml:"backoff" json:"backoff"`
}

// BackoffConfig describes the delay before a failed job is retried.
type BackoffConfig struct {
	Strategy string        `yaml:"strategy" json:"strategy"`
	Base     time.Duration `yaml:"base" json:"base"`
	Factor   float64       `yaml:"factor" json:"factor"`
	Max      time.Duration `yaml:"max" json:"max"`
}

type StoreConfig struct {
	Driver      string        `yaml:"driver" json:"driver"`
	Path        string        `yaml:"path" json:"path"`
	LockTimeout time.Duration `yaml:"lockTimeout" json:"lockTimeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// HistoryConfig drives the periodic history cleanup run by procctl serve.
// An empty Schedule disables it.
type HistoryConfig struct {
	Schedule  string        `yaml:"schedule" json:"schedule"`
	Retention time.Duration `yaml:"retention" json:"retention"`
}

// Defaults returns the configuration used when a field is not set.
func Defaults() *Config {
	return &Config{
		Batch: BatchConfig{
			JobsPerSeed:         batch.DefaultJobsPerSeed,
			InvocationsPerJob:   batch.DefaultInvocationsPerJob,
			MonitorPollInterval: batch.DefaultMonitorPollInterval,
			JobRetries:          batch.DefaultJobRetries,
		},
		Executor: ExecutorConfig{
			MaxJobsPerAcquisition: job.DefaultMaxJobsPerAcquisition,
			LockTime:              job.DefaultLockTime,
			Concurrency:           job.DefaultConcurrency,
			PollInterval:          job.DefaultPollInterval,
			Backoff: BackoffConfig{
				Strategy: BackoffExponential,
				Base:     time.Second,
				Factor:   2,
				Max:      time.Minute,
			},
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatJSON,
		},
		History: HistoryConfig{
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, process.NewError(process.ErrValidation, fmt.Sprintf("config: reading %s: %v", path, err), err, map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, process.NewError(process.ErrValidation, fmt.Sprintf("config: parsing %s: %v", path, err), err, map[string]any{"path": path})
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, process.NewError(process.ErrValidation, fmt.Sprintf("config: parsing: %v", err), err, nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Batch.JobsPerSeed < 1 {
		errs = append(errs, "batch.jobsPerSeed must be positive")
	}
	if c.Batch.InvocationsPerJob < 1 {
		errs = append(errs, "batch.invocationsPerJob must be positive")
	}
	if c.Batch.MonitorPollInterval < 0 {
		errs = append(errs, "batch.monitorPollInterval must not be negative")
	}
	if c.Batch.JobRetries < 0 {
		errs = append(errs, "batch.jobRetries must not be negative")
	}
	if c.Executor.MaxJobsPerAcquisition < 1 {
		errs = append(errs, "executor.maxJobsPerAcquisition must be positive")
	}
	if c.Executor.Concurrency < 1 {
		errs = append(errs, "executor.concurrency must be positive")
	}
	if c.Executor.LockTime <= 0 {
		errs = append(errs, "executor.lockTime must be positive")
	}
	if c.Executor.PollInterval <= 0 {
		errs = append(errs, "executor.pollInterval must be positive")
	}
	switch c.Executor.Backoff.Strategy {
	case "", BackoffNone, BackoffFixed, BackoffExponential:
	default:
		errs = append(errs, fmt.Sprintf("executor.backoff.strategy %q is not one of none, fixed, exponential", c.Executor.Backoff.Strategy))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverBolt:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the bolt driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, bolt", c.Store.Driver))
	}
	switch c.Logging.Format {
	case FormatJSON, FormatText:
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of json, text", c.Logging.Format))
	}
	if c.History.Schedule != "" && c.History.Retention <= 0 {
		errs = append(errs, "history.retention must be positive when history.schedule is set")
	}
	if len(errs) > 0 {
		return process.Validationf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BatchOptions translates the batch section.
func (c *Config) BatchOptions() []batch.Option {
	return []batch.Option{
		batch.WithJobsPerSeed(c.Batch.JobsPerSeed),
		batch.WithInvocationsPerJob(c.Batch.InvocationsPerJob),
		batch.WithMonitorPollInterval(c.Batch.MonitorPollInterval),
		batch.WithJobRetries(c.Batch.JobRetries),
	}
}

// ExecutorOptions translates the executor section.
func (c *Config) ExecutorOptions() []job.Option {
	opts := []job.Option{
		job.WithMaxJobsPerAcquisition(c.Executor.MaxJobsPerAcquisition),
		job.WithLockTime(c.Executor.LockTime),
		job.WithConcurrency(c.Executor.Concurrency),
		job.WithPollInterval(c.Executor.PollInterval),
		job.WithBackoff(c.Executor.Backoff.RetryStrategy()),
	}
	if c.Executor.WorkerID != "" {
		opts = append(opts, job.WithWorkerID(c.Executor.WorkerID))
	}
	return opts
}

// RetryStrategy builds the runner strategy named by the section.
func (b BackoffConfig) RetryStrategy() runner.RetryStrategy {
	switch b.Strategy {
	case BackoffFixed:
		return runner.FixedDelayStrategy{Delay: b.Base}
	case BackoffExponential:
		return runner.ExponentialBackoffStrategy{Base: b.Base, Factor: b.Factor, Max: b.Max}
	default:
		return runner.NoDelayStrategy{}
	}
}

// OpenStore opens the configured store. The caller closes it.
func (c *Config) OpenStore() (persistence.Store, error) {
	switch c.Store.Driver {
	case DriverBolt:
		store, err := bolt.Open(c.Store.Path, bolt.Options{Timeout: c.Store.LockTimeout})
		if err != nil {
			return nil, process.NewError(process.ErrInternal, fmt.Sprintf("config: opening bolt store: %v", err), err, map[string]any{"path": c.Store.Path})
		}
		return store, nil
	case DriverMemory, "":
		return memory.New(), nil
	default:
		return nil, process.Validationf("unknown store driver %q", c.Store.Driver)
	}
}

// NewLogger builds the logger of the logging section writing to out.
func (c *Config) NewLogger(out io.Writer) process.Logger {
	if c.Logging.Format == FormatText {
		return process.NewFmtLogger(out)
	}
	return process.NewGLogger(nil, out, c.Logging.Level)
}

type lookupFunc func(string) (string, bool)

// applyEnvOverrides reads PROCESS_* variables. Only scalar fields an operator
// usually changes per deployment are covered.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"PROCESS_ENGINE_DEFINITIONS": &cfg.Engine.Definitions,
		"PROCESS_ENGINE_TENANT":      &cfg.Engine.Tenant,
		"PROCESS_EXECUTOR_WORKER_ID": &cfg.Executor.WorkerID,
		"PROCESS_STORE_DRIVER":       &cfg.Store.Driver,
		"PROCESS_STORE_PATH":         &cfg.Store.Path,
		"PROCESS_LOG_LEVEL":          &cfg.Logging.Level,
		"PROCESS_LOG_FORMAT":         &cfg.Logging.Format,
		"PROCESS_HISTORY_SCHEDULE":   &cfg.History.Schedule,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PROCESS_BATCH_JOBS_PER_SEED":       &cfg.Batch.JobsPerSeed,
		"PROCESS_BATCH_INVOCATIONS_PER_JOB": &cfg.Batch.InvocationsPerJob,
		"PROCESS_BATCH_JOB_RETRIES":         &cfg.Batch.JobRetries,
		"PROCESS_EXECUTOR_MAX_JOBS":         &cfg.Executor.MaxJobsPerAcquisition,
		"PROCESS_EXECUTOR_CONCURRENCY":      &cfg.Executor.Concurrency,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return process.Validationf("config: %s=%q is not an integer", key, v)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"PROCESS_EXECUTOR_LOCK_TIME":     &cfg.Executor.LockTime,
		"PROCESS_EXECUTOR_POLL_INTERVAL": &cfg.Executor.PollInterval,
		"PROCESS_HISTORY_RETENTION":      &cfg.History.Retention,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return process.Validationf("config: %s=%q is not a duration", key, v)
		}
		*dst = d
	}
	return nil
}

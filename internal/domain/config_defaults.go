package domain

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

func DefaultConfig() *Config {
	return &Config{
		DataDir:       "./data",
		Log:           DefaultLogConfig(),
		Server:        DefaultServerConfig(),
		Engine:        DefaultEngineConfig(),
		Executor:      DefaultExecutorConfig(),
		Approval:      DefaultApprovalConfig(),
		Artifacts:     DefaultArtifactConfig(),
		Storage:       DefaultStorageConfig(),
		Notifications: DefaultNotificationConfig(),
		Tracing:       DefaultTracingConfig(),
		Pipelines:     PipelinesConfig{Dir: "./pipelines"},
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		TriggerRate:     5,
		TriggerBurst:    10,
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:           4,
		MaxConcurrentRuns: 10,
		FailFast:          false,
		ContinueOnFailure: false,
		RunTimeout:        time.Hour,
		StageTimeout:      30 * time.Minute,
	}
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Shell:            "sh",
		UnstableExitCode: 3,
		TailLines:        50,
	}
}

func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		DefaultTimeout: 10 * time.Minute,
	}
}

func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Backend:          ArtifactBackendFS,
		ContentAddressed: true,
		Retention: RetentionPolicy{
			MaxCount: 10,
			MaxAge:   30 * 24 * time.Hour,
		},
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver: StorageBadger,
	}
}

func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		Channels: []ChannelConfig{{Name: "log", Kind: ChannelLog}},
		Timeout:  10 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         time.Minute,
		},
	}
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "gantry",
	}
}

func NewConfigFromSimple(dataDir string, logger *slog.Logger) *Config {
	config := DefaultConfig()
	config.DataDir = dataDir
	config.Logger = logger
	return config
}

func (c *Config) WithWorkers(workers int) *Config {
	c.Engine.Workers = workers
	return c
}

func (c *Config) WithFailFast(enabled bool) *Config {
	c.Engine.FailFast = enabled
	return c
}

func (c *Config) WithTimeouts(run, stage time.Duration) *Config {
	c.Engine.RunTimeout = run
	c.Engine.StageTimeout = stage
	return c
}

func (c *Config) WithStorage(driver StorageDriver, path string) *Config {
	c.Storage.Driver = driver
	c.Storage.Path = path
	return c
}

func (c *Config) WithChannels(channels ...ChannelConfig) *Config {
	c.Notifications.Channels = channels
	return c
}

func (c *Config) WithRetention(maxCount int, maxAge time.Duration) *Config {
	c.Artifacts.Retention = RetentionPolicy{MaxCount: maxCount, MaxAge: maxAge}
	return c
}

// ResolvePaths fills storage and artifact paths left empty with locations
// under DataDir.
func (c *Config) ResolvePaths() {
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case StorageSQLite:
			c.Storage.Path = filepath.Join(c.DataDir, "runs.db")
		case StorageBadger:
			c.Storage.Path = filepath.Join(c.DataDir, "runs")
		}
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(c.DataDir, "artifacts")
	}
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return NewConfigError("logger", ErrInvalidInput)
	}
	if c.Engine.Workers <= 0 {
		return NewConfigError("engine.workers", ErrInvalidInput)
	}
	if c.Engine.MaxConcurrentRuns <= 0 {
		return NewConfigError("engine.max_concurrent_runs", ErrInvalidInput)
	}
	if c.Engine.RunTimeout < 0 || c.Engine.StageTimeout < 0 {
		return NewConfigError("engine.timeouts", ErrInvalidInput)
	}
	if c.Server.TriggerRate < 0 || c.Server.TriggerBurst < 0 {
		return NewConfigError("server.trigger_rate", ErrInvalidInput)
	}
	if c.Approval.DefaultTimeout <= 0 {
		return NewConfigError("approval.default_timeout", ErrInvalidInput)
	}
	if c.Executor.UnstableExitCode == 0 {
		return NewConfigError("executor.unstable_exit_code", fmt.Errorf("exit code 0 is reserved for success"))
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageBadger, StorageSQLite:
		if c.Storage.Path == "" && c.DataDir == "" {
			return NewConfigError("storage.path", ErrInvalidInput)
		}
	default:
		return NewConfigError("storage.driver", fmt.Errorf("unknown driver %q", c.Storage.Driver))
	}

	switch c.Artifacts.Backend {
	case ArtifactBackendFS:
		if c.Artifacts.Dir == "" && c.DataDir == "" {
			return NewConfigError("artifacts.dir", ErrInvalidInput)
		}
	case ArtifactBackendS3:
		if c.Artifacts.S3.Bucket == "" {
			return NewConfigError("artifacts.s3.bucket", ErrInvalidInput)
		}
	default:
		return NewConfigError("artifacts.backend", fmt.Errorf("unknown backend %q", c.Artifacts.Backend))
	}
	if c.Artifacts.Retention.MaxCount < 0 || c.Artifacts.Retention.MaxAge < 0 {
		return NewConfigError("artifacts.retention", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(c.Notifications.Channels))
	for _, ch := range c.Notifications.Channels {
		if err := validateChannelConfig(ch); err != nil {
			return err
		}
		if seen[ch.Name] {
			return NewConfigError("notifications.channels", fmt.Errorf("duplicate channel %q", ch.Name))
		}
		seen[ch.Name] = true
	}

	return nil
}

func validateChannelConfig(ch ChannelConfig) error {
	if ch.Name == "" {
		return NewConfigError("notifications.channels.name", ErrInvalidInput)
	}
	switch ch.Kind {
	case ChannelLog:
	case ChannelWebhook:
		if ch.URL == "" {
			return NewConfigError("notifications.channels.url", ErrInvalidInput)
		}
	default:
		return NewConfigError("notifications.channels.kind", fmt.Errorf("unknown kind %q", ch.Kind))
	}
	for _, o := range ch.Outcomes {
		switch o {
		case RunOutcomeSuccess, RunOutcomeFailure, RunOutcomeUnstable, RunOutcomeAborted:
		default:
			return NewConfigError("notifications.channels.outcomes", fmt.Errorf("unknown outcome %q", o))
		}
	}
	return nil
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		Field: field,
		Err:   err,
	}
}

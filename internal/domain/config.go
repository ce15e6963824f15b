package domain

import (
	"log/slog"
	"time"
)

type Config struct {
	DataDir string       `json:"data_dir" yaml:"data_dir" koanf:"data_dir"`
	Logger  *slog.Logger `json:"-" yaml:"-" koanf:"-"`

	Log           LogConfig          `json:"log" yaml:"log" koanf:"log"`
	Server        ServerConfig       `json:"server" yaml:"server" koanf:"server"`
	Engine        EngineConfig       `json:"engine" yaml:"engine" koanf:"engine"`
	Executor      ExecutorConfig     `json:"executor" yaml:"executor" koanf:"executor"`
	Approval      ApprovalConfig     `json:"approval" yaml:"approval" koanf:"approval"`
	Artifacts     ArtifactConfig     `json:"artifacts" yaml:"artifacts" koanf:"artifacts"`
	Storage       StorageConfig      `json:"storage" yaml:"storage" koanf:"storage"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications" koanf:"notifications"`
	Tracing       TracingConfig      `json:"tracing" yaml:"tracing" koanf:"tracing"`
	Pipelines     PipelinesConfig    `json:"pipelines" yaml:"pipelines" koanf:"pipelines"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" koanf:"level"`
	Format string `json:"format" yaml:"format" koanf:"format"`
}

type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" koanf:"addr"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout" koanf:"request_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" koanf:"shutdown_timeout"`
	// TriggerRate is the per-client build trigger rate in requests per
	// second. Zero disables limiting.
	TriggerRate  float64 `json:"trigger_rate" yaml:"trigger_rate" koanf:"trigger_rate"`
	TriggerBurst int     `json:"trigger_burst" yaml:"trigger_burst" koanf:"trigger_burst"`
}

type EngineConfig struct {
	Workers           int           `json:"workers" yaml:"workers" koanf:"workers"`
	MaxConcurrentRuns int           `json:"max_concurrent_runs" yaml:"max_concurrent_runs" koanf:"max_concurrent_runs"`
	FailFast          bool          `json:"fail_fast" yaml:"fail_fast" koanf:"fail_fast"`
	ContinueOnFailure bool          `json:"continue_on_failure" yaml:"continue_on_failure" koanf:"continue_on_failure"`
	RunTimeout        time.Duration `json:"run_timeout" yaml:"run_timeout" koanf:"run_timeout"`
	StageTimeout      time.Duration `json:"stage_timeout" yaml:"stage_timeout" koanf:"stage_timeout"`
}

type ExecutorConfig struct {
	Shell            string `json:"shell" yaml:"shell" koanf:"shell"`
	WorkDir          string `json:"work_dir" yaml:"work_dir" koanf:"work_dir"`
	UnstableExitCode int    `json:"unstable_exit_code" yaml:"unstable_exit_code" koanf:"unstable_exit_code"`
	TailLines        int    `json:"tail_lines" yaml:"tail_lines" koanf:"tail_lines"`
}

type ApprovalConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout" koanf:"default_timeout"`
}

type ArtifactBackend string

const (
	ArtifactBackendFS ArtifactBackend = "fs"
	ArtifactBackendS3 ArtifactBackend = "s3"
)

type ArtifactConfig struct {
	Backend          ArtifactBackend `json:"backend" yaml:"backend" koanf:"backend"`
	Dir              string          `json:"dir" yaml:"dir" koanf:"dir"`
	ContentAddressed bool            `json:"content_addressed" yaml:"content_addressed" koanf:"content_addressed"`
	Retention        RetentionPolicy `json:"retention" yaml:"retention" koanf:"retention"`
	S3               S3Config        `json:"s3" yaml:"s3" koanf:"s3"`
}

type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket" koanf:"bucket"`
	Prefix   string `json:"prefix" yaml:"prefix" koanf:"prefix"`
	Region   string `json:"region" yaml:"region" koanf:"region"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" koanf:"endpoint"`
}

type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageBadger StorageDriver = "badger"
	StorageSQLite StorageDriver = "sqlite"
)

type StorageConfig struct {
	Driver StorageDriver `json:"driver" yaml:"driver" koanf:"driver"`
	Path   string        `json:"path" yaml:"path" koanf:"path"`
}

type NotificationConfig struct {
	Channels []ChannelConfig `json:"channels" yaml:"channels" koanf:"channels"`
	Timeout  time.Duration   `json:"timeout" yaml:"timeout" koanf:"timeout"`
	Breaker  BreakerConfig   `json:"breaker" yaml:"breaker" koanf:"breaker"`
}

// BreakerConfig trips a webhook channel after consecutive delivery failures.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" koanf:"failure_threshold"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown" koanf:"cooldown"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" koanf:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name" koanf:"service_name"`
}

type PipelinesConfig struct {
	Dir string `json:"dir" yaml:"dir" koanf:"dir"`
}

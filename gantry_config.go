package gantry

import (
	"github.com/eleven-am/gantry/internal/config"
	"github.com/eleven-am/gantry/internal/domain"
)

type Config = domain.Config

type LogConfig = domain.LogConfig

type ServerConfig = domain.ServerConfig

type EngineConfig = domain.EngineConfig

type ExecutorConfig = domain.ExecutorConfig

type ApprovalConfig = domain.ApprovalConfig

type ArtifactConfig = domain.ArtifactConfig

type RetentionPolicy = domain.RetentionPolicy

type S3Config = domain.S3Config

type StorageConfig = domain.StorageConfig

type NotificationConfig = domain.NotificationConfig

type ChannelConfig = domain.ChannelConfig

type ChannelKind = domain.ChannelKind

const (
	ChannelWebhook = domain.ChannelWebhook
	ChannelLog     = domain.ChannelLog
)

type TracingConfig = domain.TracingConfig

type StorageDriver = domain.StorageDriver

const (
	StorageMemory = domain.StorageMemory
	StorageBadger = domain.StorageBadger
	StorageSQLite = domain.StorageSQLite
)

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// LoadConfig reads a YAML config file and GANTRY_* environment variables
// over the defaults. An empty path reads gantry.yaml when present.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

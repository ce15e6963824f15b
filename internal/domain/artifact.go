package domain

import (
	"time"
)

type RetentionPolicy struct {
	MaxCount int           `json:"max_count" yaml:"max_count" koanf:"max_count"`
	MaxAge   time.Duration `json:"max_age" yaml:"max_age" koanf:"max_age"`
}

// ArtifactRef points at stored content. The registry owns refs; consumers copy
// the value, never the content.
type ArtifactRef struct {
	Name             string          `json:"name"`
	BuildID          string          `json:"build_id"`
	ProducingStageID string          `json:"producing_stage_id"`
	ContentLocation  string          `json:"content_location"`
	Fingerprint      string          `json:"fingerprint"`
	Size             int64           `json:"size"`
	CreatedAt        time.Time       `json:"created_at"`
	Retention        RetentionPolicy `json:"retention"`
}

// SameMetadata reports whether two refs describe the same logical artifact.
func (a ArtifactRef) SameMetadata(b ArtifactRef) bool {
	return a.Name == b.Name &&
		a.BuildID == b.BuildID &&
		a.ProducingStageID == b.ProducingStageID &&
		a.ContentLocation == b.ContentLocation &&
		a.Size == b.Size
}

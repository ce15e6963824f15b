package domain

import "fmt"

const (
	RunRecordPrefix = "run:record:"
	RunIndexPrefix  = "run:index:"
)

// RunRecordKey builds the canonical key for a persisted run record
func RunRecordKey(buildID string) string {
	return fmt.Sprintf("%s%s", RunRecordPrefix, buildID)
}

// RunIndexKey orders runs by creation time so prefix scans list oldest first
func RunIndexKey(createdAtNanos int64, buildID string) string {
	return fmt.Sprintf("%s%020d:%s", RunIndexPrefix, createdAtNanos, buildID)
}

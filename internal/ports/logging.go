package ports

import (
	"context"
	"log/slog"
	"time"
)

type StructuredLogger struct {
	logger    *slog.Logger
	component string
	baseAttrs []slog.Attr
}

func NewStructuredLogger(logger *slog.Logger, component string) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{
		logger:    logger,
		component: component,
		baseAttrs: []slog.Attr{slog.String(FieldComponent, component)},
	}
}

// WithRun scopes log lines to one build.
func (sl *StructuredLogger) WithRun(buildID, pipeline string) *RunLogger {
	return &RunLogger{
		logger:   sl,
		buildID:  buildID,
		pipeline: pipeline,
	}
}

func (sl *StructuredLogger) Debug(msg string, args ...interface{}) {
	sl.log(slog.LevelDebug, msg, args...)
}

func (sl *StructuredLogger) Info(msg string, args ...interface{}) {
	sl.log(slog.LevelInfo, msg, args...)
}

func (sl *StructuredLogger) Warn(msg string, args ...interface{}) {
	sl.log(slog.LevelWarn, msg, args...)
}

func (sl *StructuredLogger) Error(msg string, args ...interface{}) {
	sl.log(slog.LevelError, msg, args...)
}

func (sl *StructuredLogger) log(level slog.Level, msg string, args ...interface{}) {
	attrs := make([]slog.Attr, 0, len(sl.baseAttrs)+len(args)/2)
	attrs = append(attrs, sl.baseAttrs...)
	attrs = append(attrs, sl.convertArgs(args...)...)
	sl.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (sl *StructuredLogger) convertArgs(args ...interface{}) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)

	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}

		value := args[i+1]
		switch v := value.(type) {
		case string:
			attrs = append(attrs, slog.String(key, v))
		case int:
			attrs = append(attrs, slog.Int(key, v))
		case int64:
			attrs = append(attrs, slog.Int64(key, v))
		case bool:
			attrs = append(attrs, slog.Bool(key, v))
		case time.Duration:
			attrs = append(attrs, slog.Duration(key, v))
		case time.Time:
			attrs = append(attrs, slog.Time(key, v))
		case error:
			attrs = append(attrs, slog.String(key, v.Error()))
		default:
			attrs = append(attrs, slog.Any(key, v))
		}
	}

	return attrs
}

type RunLogger struct {
	logger   *StructuredLogger
	buildID  string
	pipeline string
	stageID  string
}

func (rl *RunLogger) Debug(msg string, args ...interface{}) {
	rl.logger.Debug(msg, rl.fields(args...)...)
}

func (rl *RunLogger) Info(msg string, args ...interface{}) {
	rl.logger.Info(msg, rl.fields(args...)...)
}

func (rl *RunLogger) Warn(msg string, args ...interface{}) {
	rl.logger.Warn(msg, rl.fields(args...)...)
}

func (rl *RunLogger) Error(msg string, args ...interface{}) {
	rl.logger.Error(msg, rl.fields(args...)...)
}

func (rl *RunLogger) Stage(stageID string) *RunLogger {
	return &RunLogger{logger: rl.logger, buildID: rl.buildID, pipeline: rl.pipeline, stageID: stageID}
}

func (rl *RunLogger) fields(args ...interface{}) []interface{} {
	runArgs := []interface{}{
		FieldBuildID, rl.buildID,
		FieldPipeline, rl.pipeline,
	}
	if rl.stageID != "" {
		runArgs = append(runArgs, FieldStageID, rl.stageID)
	}

	return append(runArgs, args...)
}

const (
	FieldBuildID   = "build_id"
	FieldPipeline  = "pipeline"
	FieldStageID   = "stage_id"
	FieldComponent = "component"
)

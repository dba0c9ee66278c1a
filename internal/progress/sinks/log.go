package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/progress"
)

// LogSink writes one structured log line per download milestone. Progress
// steps are logged at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("download_id", evt.ID()),
			zap.String("stage", string(evt.Stage)),
			zap.String("host", evt.Host),
			zap.Int64("bytes", evt.Bytes),
			zap.Int64("total", evt.Total),
		}
		switch evt.Stage {
		case progress.StageProgress:
			s.logger.Debug("download progress", append(fields, zap.Int("percent", evt.Percent))...)
		case progress.StageError:
			s.logger.Warn("download failed", append(fields, zap.Duration("dur", evt.Dur), zap.String("code", evt.Note))...)
		case progress.StageDone:
			s.logger.Info("download finished", append(fields, zap.Duration("dur", evt.Dur))...)
		default:
			s.logger.Info("download started", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const defaultSlowThreshold = 200 * time.Millisecond

// ZapGormLogger routes gorm's logging through zap.L(). Record-not-found is
// never an error here: repositories report it as a nil result.
type ZapGormLogger struct {
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
	ShowSQL       bool
}

func NewZapGormLogger(level logger.LogLevel, showSQL bool, slow time.Duration) *ZapGormLogger {
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &ZapGormLogger{
		LogLevel:      level,
		ShowSQL:       showSQL,
		SlowThreshold: slow,
	}
}

func (l *ZapGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.LogLevel = level
	return &clone
}

func (l *ZapGormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		zap.L().Info(fmt.Sprintf(msg, data...), traceField(ctx))
	}
}

func (l *ZapGormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		zap.L().Warn(fmt.Sprintf(msg, data...), traceField(ctx))
	}
}

func (l *ZapGormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		zap.L().Error(fmt.Sprintf(msg, data...), traceField(ctx))
	}
}

func (l *ZapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	fields := func(sql string, rows int64, extra ...zap.Field) []zap.Field {
		return append([]zap.Field{
			zap.String("file", utils.FileWithLineNum()),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
			traceField(ctx),
		}, extra...)
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		sql, rows := fc()
		zap.L().Error("gorm.query", fields(sql, rows, zap.Error(err))...)
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		zap.L().Warn("gorm.slow_query", fields(sql, rows, zap.Duration("threshold", l.SlowThreshold))...)
	case l.LogLevel >= logger.Info && l.ShowSQL:
		sql, rows := fc()
		zap.L().Debug("gorm.query", fields(sql, rows)...)
	}
}

func traceField(ctx context.Context) zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zap.Skip()
	}
	return zap.String("trace_id", sc.TraceID().String())
}

// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TraceIDKey  ContextKey = "trace_id"
	ProcessKey  ContextKey = "process"
	StrategyKey ContextKey = "strategy"
	RequestKey  ContextKey = "request_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // json or text
	Output    string `json:"output"` // stdout, stderr, or file path
	Component string `json:"component"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			output = os.Stderr
		} else {
			output = f
		}
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger:    slog.New(handler),
		component: cfg.Component,
	}
}

// Default 创建默认日志器
//
// 注意：capture-host 作为浏览器原生消息宿主运行时 stdout 被协议帧占用，
// 日志默认走 stderr。
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stderr",
		Component: component,
	})
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := []any{slog.String("component", l.component)}

	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if process, ok := ctx.Value(ProcessKey).(string); ok && process != "" {
		attrs = append(attrs, slog.String("process", process))
	}
	if strategy, ok := ctx.Value(StrategyKey).(string); ok && strategy != "" {
		attrs = append(attrs, slog.String("strategy", strategy))
	}

	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// WithProcess 添加进程名
func (l *Logger) WithProcess(process string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("process", process)),
		component: l.component,
	}
}

// WithStrategy 添加策略 ID
func (l *Logger) WithStrategy(strategyID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.String("strategy", strategyID)),
		component: l.component,
	}
}

// WithRequestID 添加协议请求 ID
func (l *Logger) WithRequestID(id uint64) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Uint64("request_id", id)),
		component: l.component,
	}
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{
		Logger:    l.Logger.With(slog.String("error", err.Error())),
		component: l.component,
	}
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return &Logger{
		Logger:    l.Logger.With(slog.Float64("duration_ms", float64(d.Milliseconds()))),
		component: l.component,
	}
}

// FrameLog 协议帧日志
func (l *Logger) FrameLog(direction, frameType, action string, size int) {
	l.Logger.Debug("Frame",
		slog.String("direction", direction),
		slog.String("type", frameType),
		slog.String("action", action),
		slog.Int("size", size),
	)
}

// SelectionLog 策略选择日志
func (l *Logger) SelectionLog(process, strategyID string, score float64) {
	l.Logger.Debug("Strategy selected",
		slog.String("process", process),
		slog.String("strategy", strategyID),
		slog.Float64("score", score),
	)
}

// SaveLog 资产保存日志
func (l *Logger) SaveLog(assetType, hash string, size int64, dedup bool, err error) {
	attrs := []any{
		slog.String("asset_type", assetType),
		slog.String("hash", hash),
		slog.Int64("size", size),
		slog.Bool("dedup", dedup),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("Asset save failed", attrs...)
	} else {
		l.Logger.Debug("Asset saved", attrs...)
	}
}

// ReconnectLog 桥接重连日志
func (l *Logger) ReconnectLog(endpoint string, attempt int, err error) {
	attrs := []any{
		slog.String("endpoint", endpoint),
		slog.Int("attempt", attempt),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Warn("Reconnect failed", attrs...)
	} else {
		l.Logger.Info("Reconnected", attrs...)
	}
}

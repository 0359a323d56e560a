package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init 设置服务名等全局字段，应在进程启动时调用一次。
func Init(serviceName string) {
	base = base.With().Str("service", serviceName).Logger()
}

// L 返回全局 logger。
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回一个携带当前 trace_id 的 logger。
// 这样日志可以和 Jaeger 里的链路互相检索。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return &base
	}
	l := base.With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return &l
}

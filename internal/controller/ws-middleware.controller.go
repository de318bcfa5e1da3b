package controller

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/protocol"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

func (c controller) wsRequestIdWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *websocket.Conn, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedId()))
			return next(ctx, conn, payload)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, conn *websocket.Conn, payload any) error {
			messageType := wsrouter.GetMessageTypeFromCtx(ctx)
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", messageType))

			// heartbeats arrive every second from every client
			level := slog.LevelInfo
			if messageType == protocol.TypeHeartbeat {
				level = slog.LevelDebug
			}
			c.logger.Log(ctx, level, "websocket message received", "payload", payload)

			start := time.Now()

			err := next(ctx, conn, payload)

			attrs := []any{"processing_time_us", time.Since(start).Microseconds()}
			if c.wantRuntimeStats(ctx, messageType) {
				var memStats runtime.MemStats
				runtime.ReadMemStats(&memStats)
				attrs = append(attrs,
					"alloc", memStats.Alloc/1024,
					"goroutines", runtime.NumGoroutine(),
				)
			}
			c.logger.Log(ctx, level, "websocket message handled", attrs...)

			return err
		}
	}
}

// wantRuntimeStats reports whether a handled message is logged with memory
// stats. Heartbeats never are.
func (c controller) wantRuntimeStats(ctx context.Context, messageType string) bool {
	return messageType != protocol.TypeHeartbeat && c.logger.Enabled(ctx, slog.LevelInfo)
}

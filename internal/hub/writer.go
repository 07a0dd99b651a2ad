package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rpggio/taskhub/internal/event"
)

// WriterConfig controls how a connection's queue is drained.
type WriterConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultWriterConfig returns the writer settings used by the server.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Drain writes queued events to conn as JSON until the queue is closed, ctx is
// done, or a write fails. A closed queue ends with a normal closure.
func Drain(ctx context.Context, conn *websocket.Conn, queue <-chan event.Event, cfg WriterConfig) error {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriterConfig().WriteTimeout
	}
	var ping <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-queue:
			if !ok {
				return conn.Close(websocket.StatusNormalClosure, "")
			}
			writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				return fmt.Errorf("writing %s: %w", ev.Name, err)
			}

		case <-ping:
			pingCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

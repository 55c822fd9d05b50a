package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter mirrors protocol events onto an slog.Logger. Error events are
// logged at Warn, everything else at Debug. The payload of each event is a
// group named after its kind ("frame", "exchange", "state", "beat", "error").
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	ctx := context.Background()
	level := slog.LevelDebug
	if event.Error != nil {
		level = slog.LevelWarn
	}
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs,
		slog.String("conn_id", event.ConnectionID),
		slog.String("layer", event.Layer.String()),
		slog.String("direction", event.Direction.String()),
		slog.String("category", event.Category.String()),
	)
	attrs = appendNonEmpty(attrs, "impl", event.Implementation)
	attrs = appendNonEmpty(attrs, "device", event.DeviceID)
	if payload, ok := payloadAttr(event); ok {
		attrs = append(attrs, payload)
	}

	a.logger.LogAttrs(ctx, level, "protocol", attrs...)
}

func payloadAttr(event Event) (slog.Attr, bool) {
	switch {
	case event.Frame != nil:
		return slog.Group("frame",
			slog.Int("size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		), true

	case event.Exchange != nil:
		x := event.Exchange
		args := []any{slog.String("opcode", x.Opcode)}
		for _, kv := range [][2]string{
			{"flags", x.Flags},
			{"path", x.Path},
			{"ranges", strings.Join(x.Ranges, ",")},
		} {
			if kv[1] != "" {
				args = append(args, slog.String(kv[0], kv[1]))
			}
		}
		if x.BytesOut > 0 {
			args = append(args, slog.Int("out", x.BytesOut))
		}
		if x.BytesIn > 0 {
			args = append(args, slog.Int("in", x.BytesIn))
		}
		if x.Status != nil {
			args = append(args, slog.Int("status", int(*x.Status)))
		}
		args = append(args, slog.Duration("took", x.Duration))
		return slog.Group("exchange", args...), true

	case event.StateChange != nil:
		sc := event.StateChange
		args := []any{
			slog.String("entity", sc.Entity.String()),
			slog.String("from", sc.OldState),
			slog.String("to", sc.NewState),
		}
		if sc.Reason != "" {
			args = append(args, slog.String("reason", sc.Reason))
		}
		return slog.Group("state", args...), true

	case event.Liveness != nil:
		return slog.Group("beat", slog.String("kind", event.Liveness.Kind)), true

	case event.Error != nil:
		e := event.Error
		args := []any{
			slog.String("layer", e.Layer.String()),
			slog.String("msg", e.Message),
		}
		if e.Context != "" {
			args = append(args, slog.String("op", e.Context))
		}
		if e.Code != nil {
			args = append(args, slog.Int("code", *e.Code))
		}
		return slog.Group("error", args...), true
	}
	return slog.Attr{}, false
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)

package notify

import (
	"context"
	"log/slog"
)

// Sink delivers operator messages. Delivery failures are logged by the
// implementation and never returned to the caller.
type Sink interface {
	Notify(ctx context.Context, symbol, text string)
	SendImage(ctx context.Context, symbol string, image []byte)
}

type Log struct{}

func (Log) Notify(_ context.Context, symbol, text string) {
	slog.Info("notify", "symbol", symbol, "text", text)
}

func (Log) SendImage(_ context.Context, symbol string, image []byte) {
	slog.Info("notify image", "symbol", symbol, "bytes", len(image))
}

type Multi []Sink

func (m Multi) Notify(ctx context.Context, symbol, text string) {
	for _, s := range m {
		s.Notify(ctx, symbol, text)
	}
}

func (m Multi) SendImage(ctx context.Context, symbol string, image []byte) {
	for _, s := range m {
		s.SendImage(ctx, symbol, image)
	}
}

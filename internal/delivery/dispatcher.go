// Package delivery sends finished requests out over their configured
// channels. Delivery is strictly best effort: a channel failing, being
// unconfigured, or panicking never changes the request outcome, and no
// channel ever receives the requester's credentials.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/luvidal/jogiscraper/pkg/types"
)

// Outcome is the result of one channel attempt.
type Outcome struct {
	Channel string
	OK      bool
	Skipped bool
	Detail  string
}

// Channel delivers one finished request over a single transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, req types.Request) Outcome
}

// Dispatcher fans a finished request out to its channels.
type Dispatcher struct {
	channels map[string]Channel
	logger   *slog.Logger
}

// NewDispatcher registers the given channels under their names.
func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		m[ch.Name()] = ch
	}
	return &Dispatcher{channels: m, logger: logger}
}

// Dispatch runs every configured channel of the request independently,
// logging each outcome. It never returns an error and never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.Request) {
	for _, name := range req.Channels {
		outcome := d.deliverOne(ctx, name, req)
		logger := d.logger.With("id", req.ID, "channel", name)
		switch {
		case outcome.Skipped:
			logger.Warn("delivery skipped", "detail", outcome.Detail)
		case !outcome.OK:
			logger.Error("delivery failed", "detail", outcome.Detail)
		default:
			logger.Info("delivered")
		}
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, name string, req types.Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Channel: name, Detail: fmt.Sprintf("channel crashed: %v", r)}
		}
	}()
	ch, ok := d.channels[name]
	if !ok {
		return Outcome{Channel: name, Skipped: true, Detail: "channel not configured"}
	}
	return ch.Deliver(ctx, req)
}

// server/worker/worker.go
package worker

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// MessageUpdate asks a waiting worker version to take over immediately.
const MessageUpdate = "UPDATE"

type Message struct {
	Type string `json:"type"`
}

// Activator is implemented by whatever hosts the offline worker.
type Activator interface {
	SkipWaiting(ctx context.Context) error
}

type Dispatcher struct {
	activator Activator
	log       zerolog.Logger
}

func NewDispatcher(activator Activator, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{activator: activator, log: log.With().Str("component", "worker").Logger()}
}

// Handle acts on UPDATE and ignores every other message type.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageUpdate:
		d.log.Info().Msg("activating new worker version")
		return d.activator.SkipWaiting(ctx)
	default:
		d.log.Debug().Str("type", msg.Type).Msg("ignoring worker message")
		return nil
	}
}

// HandleRaw decodes a JSON message and passes it to Handle. Undecodable
// payloads are logged and ignored.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.log.Debug().Err(err).Msg("ignoring malformed worker message")
		return nil
	}
	return d.Handle(ctx, msg)
}

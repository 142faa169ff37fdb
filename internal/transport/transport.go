// Package transport connects murmur to a OneBot v11 backend.
//
// Inbound payloads are deduplicated, decoded into typed events and published
// on the event hub. Outbound messages go through an ActionSender, which the
// WebSocket and HTTP transports both implement.
package transport

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/mattjoyce/murmur/internal/transport ActionSender
//go:generate mockgen -destination=mocks/mock_caller.go -package=mocks github.com/mattjoyce/murmur/internal/transport ActionCaller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/protocol"
)

// ErrNoSender is returned by Discard.
var ErrNoSender = errors.New("no outbound transport configured")

// ActionSender delivers outbound messages to the backend.
type ActionSender interface {
	SendMessage(ctx context.Context, target protocol.Target, msg message.Message) error
}

// ActionCaller performs arbitrary API actions and returns the backend's
// response. Both transport clients implement it.
type ActionCaller interface {
	Call(ctx context.Context, req *protocol.ActionRequest) (*protocol.ActionResponse, error)
}

// Publisher accepts decoded events. *events.Hub implements it.
type Publisher interface {
	Publish(ev event.Event)
}

// Discard is the sender used when no transport can send.
type Discard struct{}

func (Discard) SendMessage(_ context.Context, target protocol.Target, _ message.Message) error {
	log.WithComponent("transport").Warn("dropping outbound message", "group_id", target.GroupID, "user_id", target.UserID)
	return ErrNoSender
}

// Ingest dedupes, decodes and publishes one raw event payload. It reports
// whether the payload was published.
func Ingest(pub Publisher, dedupe *Dedupe, payload []byte, logger *slog.Logger) (bool, error) {
	if dedupe != nil && dedupe.Seen(payload) {
		logger.Debug("dropping duplicate event", "bytes", len(payload))
		return false, nil
	}
	ev, err := protocol.DecodeEventBytes(payload)
	if err != nil {
		return false, fmt.Errorf("ingest: %w", err)
	}
	pub.Publish(ev)
	return true, nil
}

// Package sync turns push channel traffic into cache and archive state.
// The bridge republishes transport envelopes as typed bus events; the engine
// consumes them and applies the mutations. Splitting the two keeps every
// other component off the transport: they subscribe to the bus instead.
package sync

import (
	"time"

	"github.com/crisari666/wamon/internal/bus"
	"github.com/crisari666/wamon/internal/push"
	"go.uber.org/zap"
)

// Transport is the slice of the push client the bridge listens on.
type Transport interface {
	On(event string, handler func(push.Envelope)) func()
}

// Bridge parses inbound envelopes and publishes them as push.* bus events
// with typed payloads. Malformed payloads are logged and dropped; one bad
// event must not stall the stream.
type Bridge struct {
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	detach    []func()
}

// NewBridge creates a bridge between the given transport and bus.
func NewBridge(transport Transport, b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{transport: transport, bus: b, logger: logger}
}

// Attach registers the envelope handlers. Call Detach to remove them.
func (b *Bridge) Attach() {
	b.detach = append(b.detach,
		on[push.NewMessagePayload](b, push.EventNewMessage),
		on[push.MessageEditedPayload](b, push.EventMessageEdited),
		on[push.MessageDeletedPayload](b, push.EventMessageDeleted),
		on[push.ChatRemovedPayload](b, push.EventChatRemoved),
		on[push.DisconnectedPayload](b, push.EventDisconnected),
		on[push.ReadyPayload](b, push.EventReady),
		on[push.QRPayload](b, push.EventQR),
		on[push.ErrorPayload](b, push.EventError),
	)
}

// Detach removes all handlers registered by Attach.
func (b *Bridge) Detach() {
	for _, d := range b.detach {
		d()
	}
	b.detach = nil
}

func on[T any](b *Bridge, event string) func() {
	return b.transport.On(event, func(env push.Envelope) {
		payload, err := push.ParseData[T](env)
		if err != nil {
			b.logger.Warn("malformed push payload",
				zap.String("event", env.Event), zap.String("room", env.Room), zap.Error(err))
			return
		}
		b.bus.Publish(bus.Event{
			Kind:      "push." + event,
			Timestamp: time.Now(),
			Payload:   payload,
		})
	})
}

package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster pushes server notifications to websocket clients.
// Every message carries a sequence number shared with streamed chat events.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a broadcaster over the given registry
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to every connected client
func (b *EventBroadcaster) Broadcast(event string, data interface{}) int {
	return b.deliver(b.Stamp(EventMessage{Event: event, Data: data}), b.clients.All())
}

// Notify sends an event about one session to the clients watching it and
// to clients that watch nothing
func (b *EventBroadcaster) Notify(sessionID, event string, data interface{}) int {
	return b.deliver(b.Stamp(EventMessage{Event: event, Data: data}), b.clients.Audience(sessionID))
}

// Stamp fills in the type, sequence number and timestamp of msg
func (b *EventBroadcaster) Stamp(msg EventMessage) EventMessage {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg
}

// deliver writes msg to clients and returns how many writes succeeded
func (b *EventBroadcaster) deliver(msg EventMessage, clients []*Client) int {
	if len(clients) == 0 {
		return 0
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to encode notification")
		return 0
	}

	sent := 0
	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, frame); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("event", msg.Event).
				Msg("Failed to notify client")
			continue
		}
		sent++
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("delivered", sent).
		Int("audience", len(clients)).
		Msg("Notification delivered")
	return sent
}

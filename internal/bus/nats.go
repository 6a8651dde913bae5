package bus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/quillpad/collab-relay/internal/relay"
)

const subjectPrefix = "relay.room."

// NATS carries room frames between relay processes over a NATS connection.
// Each room maps to a single subject, so NATS's per-publisher ordering
// keeps delta streams FIFO per (origin, room) end-to-end.
type NATS struct {
	conn *nats.Conn
}

// Connect dials the NATS server with indefinite reconnects.
func Connect(url, name string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	slog.Info("connected to nats", "url", conn.ConnectedUrl())
	return &NATS{conn: conn}, nil
}

// Publish sends a frame on its room's subject.
func (b *NATS) Publish(frame relay.BusFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bus frame: %w", err)
	}
	return b.conn.Publish(subjectFor(frame.RoomID), data)
}

// Subscribe starts delivering the room's frames to the callback. Decode
// failures are logged and skipped so one bad frame cannot stall a room.
func (b *NATS) Subscribe(roomID string, deliver func(relay.BusFrame)) (func(), error) {
	sub, err := b.conn.Subscribe(subjectFor(roomID), func(msg *nats.Msg) {
		frame, err := decodeFrame(msg.Data)
		if err != nil {
			slog.Warn("dropping undecodable bus frame", "subject", msg.Subject, "error", err)
			return
		}
		deliver(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %q: %w", roomID, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("unsubscribe failed", "room", roomID, "error", err)
		}
	}, nil
}

// Close drains the connection, flushing pending publishes.
func (b *NATS) Close() error {
	return b.conn.Drain()
}

// subjectFor maps a room id to a NATS subject. Room ids are client-supplied
// and may contain subject-significant characters ('.', '*', '>'), so the id
// is encoded into a single safe token.
func subjectFor(roomID string) string {
	return subjectPrefix + base64.RawURLEncoding.EncodeToString([]byte(roomID))
}

func decodeFrame(data []byte) (relay.BusFrame, error) {
	var frame relay.BusFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return relay.BusFrame{}, err
	}
	if frame.RoomID == "" || frame.Kind == "" {
		return relay.BusFrame{}, fmt.Errorf("incomplete frame: kind=%q room=%q", frame.Kind, frame.RoomID)
	}
	return frame, nil
}

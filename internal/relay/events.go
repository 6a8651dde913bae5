// Package relay defines the wire protocol spoken over the WebSocket: a
// closed set of tagged JSON envelopes for room membership, edit deltas,
// and cursor movement.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound and outbound event tags. The set is closed: anything else on the
// wire is a protocol error and is dropped.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventSendDelta     = "send-delta"
	EventReceiveDelta  = "receive-delta"
	EventSendCursor    = "send-cursor"
	EventReceiveCursor = "receive-cursor"
)

var errUnknownEvent = errors.New("unknown event")

// Envelope is the JSON frame exchanged with clients. Delta and Range are
// opaque to the relay; they are forwarded byte-for-byte.
type Envelope struct {
	Event      string          `json:"event"`
	DocumentID string          `json:"documentId,omitempty"`
	Delta      json.RawMessage `json:"delta,omitempty"`
	Range      json.RawMessage `json:"range,omitempty"`
	CursorID   string          `json:"cursorId,omitempty"`
}

// JoinRoom subscribes the origin session to a document's room.
type JoinRoom struct {
	Origin string
	RoomID string
}

// LeaveRoom removes the origin session from a document's room.
type LeaveRoom struct {
	Origin string
	RoomID string
}

// Delta is one edit operation in flight: opaque payload, one origin, one
// room. It exists only for the duration of the fan-out.
type Delta struct {
	Origin  string
	RoomID  string
	Payload json.RawMessage
}

// CursorUpdate is an ephemeral cursor position. Superseded updates may be
// dropped under backpressure; only the latest position matters to receivers.
type CursorUpdate struct {
	Origin   string
	RoomID   string
	Range    json.RawMessage
	CursorID string
}

// decodeEvent parses an inbound frame and returns one of JoinRoom,
// LeaveRoom, Delta, or CursorUpdate stamped with the origin session id.
func decodeEvent(origin string, raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.DocumentID == "" {
		return nil, fmt.Errorf("%s: missing documentId", env.Event)
	}

	switch env.Event {
	case EventJoinRoom:
		return JoinRoom{Origin: origin, RoomID: env.DocumentID}, nil
	case EventLeaveRoom:
		return LeaveRoom{Origin: origin, RoomID: env.DocumentID}, nil
	case EventSendDelta:
		if len(env.Delta) == 0 {
			return nil, errors.New("send-delta: missing delta")
		}
		return Delta{Origin: origin, RoomID: env.DocumentID, Payload: env.Delta}, nil
	case EventSendCursor:
		return CursorUpdate{Origin: origin, RoomID: env.DocumentID, Range: env.Range, CursorID: env.CursorID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, env.Event)
	}
}

func encodeDelta(d Delta) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:      EventReceiveDelta,
		DocumentID: d.RoomID,
		Delta:      d.Payload,
	})
}

func encodeCursor(u CursorUpdate) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:      EventReceiveCursor,
		DocumentID: u.RoomID,
		Range:      u.Range,
		CursorID:   u.CursorID,
	})
}

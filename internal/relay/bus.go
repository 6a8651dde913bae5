package relay

import "encoding/json"

// Frame kinds carried across the process boundary.
const (
	FrameDelta  = "delta"
	FrameCursor = "cursor"
)

// BusFrame is one room message crossing between relay processes. Instance
// identifies the publishing relay so a process can skip its own frames on
// receive.
type BusFrame struct {
	Instance string          `json:"instance"`
	Origin   string          `json:"origin"`
	RoomID   string          `json:"roomId"`
	Kind     string          `json:"kind"`
	Delta    json.RawMessage `json:"delta,omitempty"`
	Range    json.RawMessage `json:"range,omitempty"`
	CursorID string          `json:"cursorId,omitempty"`
}

// Bus is the cross-process fan-out channel. The in-memory hub and a
// broker-backed Bus are two implementations of the same broadcast surface;
// a hub with a nil Bus is a complete single-process deployment.
//
// Implementations must preserve per-(origin, room) publish order for delta
// frames, for example by using a single physical topic per room.
type Bus interface {
	// Publish sends a frame to every other relay process.
	Publish(frame BusFrame) error
	// Subscribe starts delivery of a room's frames to the given callback
	// and returns a function that stops it.
	Subscribe(roomID string, deliver func(BusFrame)) (unsubscribe func(), err error)
	// Close tears down the bus connection.
	Close() error
}

// Package relay coordinates session registration, room membership, and
// message fan-out through the Hub type. The hub's event loop is the single
// logical timeline on which all registry mutation happens: each join,
// leave, publish, and disconnect runs to completion before the next event
// is processed.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub owns the room registry and the set of live sessions and executes
// every state transition on its Run loop. Deltas are delivered FIFO per
// (origin, room) because the loop processes publishes in arrival order and
// each session's send queue is itself FIFO.
type Hub struct {
	registry *Registry
	bus      Bus

	// instanceID distinguishes this process's frames on the bus.
	instanceID string

	mu       sync.RWMutex
	sessions map[string]*Session

	register   chan *Session
	unregister chan *Session
	joins      chan JoinRoom
	leaves     chan LeaveRoom
	deltas     chan Delta
	cursors    chan CursorUpdate
	remote     chan BusFrame

	// unsubs holds the bus unsubscribe hooks for rooms with local members.
	unsubs map[string]func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. A nil bus selects the single-process topology; the
// hub then never leaves its own memory.
func NewHub(bus Bus) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		bus:        bus,
		instanceID: uuid.NewString(),
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		joins:      make(chan JoinRoom),
		leaves:     make(chan LeaveRoom),
		deltas:     make(chan Delta),
		cursors:    make(chan CursorUpdate),
		remote:     make(chan BusFrame, 64),
		unsubs:     make(map[string]func()),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Attach registers a session and starts its connection pumps. Used by the
// gateway after a successful upgrade.
func (h *Hub) Attach(s *Session) {
	h.register <- s

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
}

// Run is the hub's event loop. Call it in its own goroutine; it exits when
// Shutdown is invoked.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllSessions()
			return
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case ev := <-h.joins:
			h.handleJoin(ev)
		case ev := <-h.leaves:
			h.handleLeave(ev.RoomID, ev.Origin)
		case d := <-h.deltas:
			h.handleDelta(d)
		case u := <-h.cursors:
			h.handleCursor(u)
		case f := <-h.remote:
			h.handleRemote(f)
		}
	}
}

func (h *Hub) handleRegister(s *Session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.mu.Unlock()
	slog.Info("session connected", "session", s.id, "addr", s.addr, "sessions", count)
}

// handleUnregister is the presence cleanup path: strip the session from
// every joined room, drop emptied rooms (and their bus subscriptions), and
// release the identity. A second unregister for the same session is a
// no-op.
func (h *Hub) handleUnregister(s *Session) {
	h.mu.Lock()
	if _, live := h.sessions[s.id]; !live {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	count := len(h.sessions)
	h.mu.Unlock()

	close(s.send)
	emptied := h.registry.RemoveFromAll(s.id)
	for _, roomID := range emptied {
		h.dropSubscription(roomID)
		slog.Info("room removed", "room", roomID)
	}
	slog.Info("session disconnected", "session", s.id, "addr", s.addr, "sessions", count)
}

func (h *Hub) handleJoin(ev JoinRoom) {
	h.mu.RLock()
	s, live := h.sessions[ev.Origin]
	h.mu.RUnlock()
	if !live {
		// Disconnect raced the join; nothing to do.
		return
	}

	joined, members := h.registry.Join(ev.RoomID, s)
	if !joined {
		return
	}
	if members == 1 {
		h.addSubscription(ev.RoomID)
	}
	slog.Info("session joined room", "session", ev.Origin, "room", ev.RoomID, "members", members)
}

func (h *Hub) handleLeave(roomID, sessionID string) {
	left, empty := h.registry.Leave(roomID, sessionID)
	if !left {
		return
	}
	if empty {
		h.dropSubscription(roomID)
		slog.Info("room removed", "room", roomID)
	}
	slog.Info("session left room", "session", sessionID, "room", roomID)
}

// handleDelta fans an edit delta out to every other room member, in order,
// and forwards it to the bus for members on other processes.
func (h *Hub) handleDelta(d Delta) {
	frame, err := encodeDelta(d)
	if err != nil {
		slog.Warn("delta encode failed", "session", d.Origin, "error", err)
		return
	}
	h.deliver(d.RoomID, d.Origin, frame, true)

	if h.bus != nil {
		err := h.bus.Publish(BusFrame{
			Instance: h.instanceID,
			Origin:   d.Origin,
			RoomID:   d.RoomID,
			Kind:     FrameDelta,
			Delta:    d.Payload,
		})
		if err != nil {
			slog.Warn("bus publish failed", "room", d.RoomID, "error", err)
		}
	}
}

// handleCursor fans a cursor update out with weaker guarantees: a target
// under backpressure simply misses this position and catches the next one.
func (h *Hub) handleCursor(u CursorUpdate) {
	frame, err := encodeCursor(u)
	if err != nil {
		slog.Warn("cursor encode failed", "session", u.Origin, "error", err)
		return
	}
	h.deliver(u.RoomID, u.Origin, frame, false)

	if h.bus != nil {
		err := h.bus.Publish(BusFrame{
			Instance: h.instanceID,
			Origin:   u.Origin,
			RoomID:   u.RoomID,
			Kind:     FrameCursor,
			Range:    u.Range,
			CursorID: u.CursorID,
		})
		if err != nil {
			slog.Warn("bus publish failed", "room", u.RoomID, "error", err)
		}
	}
}

// handleRemote applies a frame that arrived over the bus from another relay
// process. Frames this process published come back on the topic and are
// skipped here.
func (h *Hub) handleRemote(f BusFrame) {
	if f.Instance == h.instanceID {
		return
	}

	switch f.Kind {
	case FrameDelta:
		frame, err := encodeDelta(Delta{Origin: f.Origin, RoomID: f.RoomID, Payload: f.Delta})
		if err != nil {
			return
		}
		h.deliver(f.RoomID, f.Origin, frame, true)
	case FrameCursor:
		frame, err := encodeCursor(CursorUpdate{Origin: f.Origin, RoomID: f.RoomID, Range: f.Range, CursorID: f.CursorID})
		if err != nil {
			return
		}
		h.deliver(f.RoomID, f.Origin, frame, false)
	default:
		slog.Warn("unknown bus frame kind", "kind", f.Kind, "room", f.RoomID)
	}
}

// deliver enqueues a frame to every room member except the origin. For
// deltas a full send queue means the target's transport is not draining:
// the session is evicted rather than stalling the loop or reordering its
// stream. For cursors the frame is silently dropped instead.
func (h *Hub) deliver(roomID, originID string, frame []byte, evictOnFull bool) {
	var stalled []*Session
	for _, target := range h.registry.MembersExcept(roomID, originID) {
		select {
		case target.send <- frame:
		default:
			if evictOnFull {
				stalled = append(stalled, target)
			}
		}
	}
	for _, target := range stalled {
		slog.Warn("evicting stalled session", "session", target.id, "room", roomID)
		h.evict(target)
	}
}

// evict removes a session that stopped draining its queue. Same cleanup as
// a disconnect; the write pump observes the closed queue and shuts the
// connection.
func (h *Hub) evict(s *Session) {
	h.mu.Lock()
	if _, live := h.sessions[s.id]; !live {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	h.mu.Unlock()

	close(s.send)
	for _, roomID := range h.registry.RemoveFromAll(s.id) {
		h.dropSubscription(roomID)
	}
}

// addSubscription starts bus delivery for a room gaining its first local
// member.
func (h *Hub) addSubscription(roomID string) {
	if h.bus == nil {
		return
	}
	if _, exists := h.unsubs[roomID]; exists {
		return
	}
	unsub, err := h.bus.Subscribe(roomID, func(f BusFrame) {
		select {
		case h.remote <- f:
		case <-h.ctx.Done():
		}
	})
	if err != nil {
		slog.Error("bus subscribe failed", "room", roomID, "error", err)
		return
	}
	h.unsubs[roomID] = unsub
}

func (h *Hub) dropSubscription(roomID string) {
	if unsub, exists := h.unsubs[roomID]; exists {
		unsub()
		delete(h.unsubs, roomID)
	}
}

// Stats reports the number of live rooms and sessions.
func (h *Hub) Stats() (rooms, sessions int) {
	h.mu.RLock()
	sessions = len(h.sessions)
	h.mu.RUnlock()
	return h.registry.RoomCount(), sessions
}

func (h *Hub) closeAllSessions() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		if s.conn == nil {
			continue
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("session close failed", "session", s.id, "error", err)
		}
	}
	slog.Info("closed all sessions", "count", len(sessions))
}

// Shutdown stops the event loop, closes every connection, and waits for
// the pump goroutines to finish or the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	for roomID, unsub := range h.unsubs {
		unsub()
		delete(h.unsubs, roomID)
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		slog.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		slog.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

package server

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"ircchat/internal/wire"
)

// sendTimeout bounds how long the Hub will block trying to hand a message
// to one session's outbound queue. A session that can't keep up within
// this window is evicted rather than allowed to stall the Hub. A var
// rather than a const so tests can shrink it instead of sleeping through
// the production value.
var sendTimeout = 100 * time.Millisecond

// registration is what a Conn hands the Hub when it comes online.
type registration struct {
	id    uuid.UUID
	out   chan<- wire.Message
	close chan struct{}
}

type inboundEvent struct {
	connID uuid.UUID
	msg    wire.Message
	err    *wire.ParseError
}

type closedEvent struct {
	connID uuid.UUID
}

// Hub is the single authoritative actor over the user table and room
// table. Every mutation happens inside Hub.Run, so no mutex protects
// either map — adapted from server/hub.go, whose Hub only tracked an
// undifferentiated client set for broadcast.
type Hub struct {
	register chan registration
	inbound  chan inboundEvent
	closed   chan closedEvent
	done     chan struct{}

	users map[wire.Ident]*session // keyed by registered name
	byID  map[uuid.UUID]*session  // every live session, registered or not
	rooms map[wire.Ident]*room

	logger *log.Logger
	trace  bool
}

// NewHub constructs a Hub. logger receives one line per significant state
// transition when trace is true (wired to the CHAT_LOG environment
// variable by cmd/chat-server); when false, only slow-consumer evictions
// are logged.
func NewHub(logger *log.Logger, trace bool) *Hub {
	return &Hub{
		register: make(chan registration),
		inbound:  make(chan inboundEvent, 256),
		closed:   make(chan closedEvent),
		done:     make(chan struct{}),
		users:    make(map[wire.Ident]*session),
		byID:     make(map[uuid.UUID]*session),
		rooms:    make(map[wire.Ident]*room),
		logger:   logger,
		trace:    trace,
	}
}

// Run processes Hub events until Stop is called. It must be launched as a
// goroutine and is the single synchronization point for all shared state.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			s := newSession(reg.id, reg.out, reg.close)
			h.byID[reg.id] = s
			h.logf("session %s connected (total=%d)", reg.id, len(h.byID))

		case ev := <-h.inbound:
			h.handleInbound(ev)

		case ev := <-h.closed:
			if s, ok := h.byID[ev.connID]; ok {
				h.teardown(s)
			}

		case <-h.done:
			for _, s := range h.byID {
				h.requestClose(s)
			}
			return
		}
	}
}

// Stop signals Run to tear down every session and return.
func (h *Hub) Stop() { close(h.done) }

// Register adds a newly accepted connection to the session table in
// Connected state. It blocks until the Hub has processed it.
func (h *Hub) Register(id uuid.UUID, out chan<- wire.Message, closeSig chan struct{}) {
	h.register <- registration{id: id, out: out, close: closeSig}
}

// InboundOK reports a successfully parsed message from connID.
func (h *Hub) InboundOK(connID uuid.UUID, msg wire.Message) {
	h.inbound <- inboundEvent{connID: connID, msg: msg}
}

// InboundErr reports a line that failed to parse.
func (h *Hub) InboundErr(connID uuid.UUID, err *wire.ParseError) {
	h.inbound <- inboundEvent{connID: connID, err: err}
}

// Closed reports that connID's socket is gone (EOF, error, or liveness
// timeout) — handled identically to an explicit QUIT. Once Stop has been
// called it returns without waiting, since Run is no longer receiving.
func (h *Hub) Closed(connID uuid.UUID) {
	select {
	case h.closed <- closedEvent{connID: connID}:
	case <-h.done:
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.trace {
		h.logger.Printf("[hub] "+format, args...)
	}
}

func (h *Hub) handleInbound(ev inboundEvent) {
	s, ok := h.byID[ev.connID]
	if !ok {
		return // already torn down; event raced its own session's close
	}
	if ev.err != nil {
		h.send(s, wire.New("ERROR").WithPayload(ev.err.Reason.Text()))
		return
	}
	h.dispatch(s, ev.msg)
}

func (h *Hub) dispatch(s *session, msg wire.Message) {
	if s.state == StateConnected {
		switch msg.Command {
		case "NAME":
			h.handleName(s, msg)
		case "QUIT":
			h.teardown(s)
		default:
			h.send(s, wire.New("ERROR").WithPayload("registration required"))
		}
		return
	}

	switch msg.Command {
	case "NAME":
		h.handleName(s, msg)
	case "ROOMS":
		h.handleRooms(s)
	case "JOIN":
		h.handleJoin(s, msg)
	case "LEAVE":
		h.handleLeave(s, msg)
	case "USERS":
		h.handleUsers(s, msg)
	case "SAY":
		h.handleSay(s, msg)
	case "PONG":
		// Liveness reset already happened in the Conn on any inbound byte;
		// the Hub has no state of its own to update.
	case "QUIT":
		h.teardown(s)
	default:
		h.send(s, wire.New("ERROR").WithPayload("unknown command"))
	}
}

func (h *Hub) handleName(s *session, msg wire.Message) {
	if len(msg.Params) != 1 || msg.Params[0].IsRoom {
		h.send(s, wire.New("ERROR").WithPayload("bad format of user name"))
		return
	}
	name := msg.Params[0].User.Ident
	if existing, ok := h.users[name]; ok && existing != s {
		h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("user already exists @%s", name)))
		return
	}

	first := s.state == StateConnected
	if s.name != "" {
		delete(h.users, s.name)
	}
	s.name = name
	h.users[name] = s

	if first {
		s.state = StateRegistered
		h.send(s, wire.New("REGISTERED"))
	}
}

func (h *Hub) handleRooms(s *session) {
	for ident := range h.rooms {
		h.send(s, wire.New("ROOM").WithParams(wire.RoomParam(wire.Room{Ident: ident})))
	}
	// Open question #2: an empty room table yields zero ROOM lines and no
	// ERROR — see SPEC_FULL.md §9.
}

func (h *Hub) handleJoin(s *session, msg wire.Message) {
	rid, ok := h.roomParam(s, msg)
	if !ok {
		return
	}
	r, exists := h.rooms[rid]
	if !exists {
		r = newRoom(rid)
		h.rooms[rid] = r
	}
	r.members[s.id] = s
	s.rooms[rid] = struct{}{}

	for _, m := range r.members {
		h.send(m, wire.New("JOINED").WithRoomUserPrefix(wire.Room{Ident: rid}, s.user()))
	}
}

func (h *Hub) handleLeave(s *session, msg wire.Message) {
	rid, ok := h.roomParam(s, msg)
	if !ok {
		return
	}
	r, exists := h.rooms[rid]
	if !exists {
		h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("room unknown #%s", rid)))
		return
	}
	if _, member := r.members[s.id]; !member {
		h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("room unknown #%s", rid)))
		return
	}

	h.leaveRoom(s, r)
}

// leaveRoom removes s from r, deleting r if it becomes empty, and fans
// LEFT out to whoever remains.
func (h *Hub) leaveRoom(s *session, r *room) {
	delete(r.members, s.id)
	delete(s.rooms, r.ident)

	if len(r.members) == 0 {
		delete(h.rooms, r.ident)
		return
	}
	for _, m := range r.members {
		h.send(m, wire.New("LEFT").WithRoomUserPrefix(wire.Room{Ident: r.ident}, s.user()))
	}
}

func (h *Hub) handleUsers(s *session, msg wire.Message) {
	rid, ok := h.roomParam(s, msg)
	if !ok {
		return
	}
	r, exists := h.rooms[rid]
	if !exists {
		h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("room unknown #%s", rid)))
		return
	}
	for _, m := range r.members {
		h.send(s, wire.New("USER").WithParams(wire.UserParam(m.user())))
	}
}

func (h *Hub) handleSay(s *session, msg wire.Message) {
	if len(msg.Params) != 1 || !msg.HasPayload {
		h.send(s, wire.New("ERROR").WithPayload("bad format"))
		return
	}
	target := msg.Params[0]

	if target.IsRoom {
		rid := target.Room.Ident
		r, exists := h.rooms[rid]
		if !exists {
			h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("room unknown #%s", rid)))
			return
		}
		for _, m := range r.members {
			h.send(m, wire.New("SAID").WithRoomUserPrefix(wire.Room{Ident: rid}, s.user()).WithPayload(msg.Payload))
		}
		return
	}

	uid := target.User.Ident
	recipient, exists := h.users[uid]
	if !exists {
		h.send(s, wire.New("ERROR").WithPayload(fmt.Sprintf("user unknown @%s", uid)))
		return
	}
	h.send(recipient, wire.New("SAID").WithUserPrefix(s.user()).WithPayload(msg.Payload))
}

// roomParam extracts the single expected room param of msg, sending the
// spec's "bad format of room name" error and returning ok=false if it's
// missing or malformed (e.g. a user token where a room was required).
func (h *Hub) roomParam(s *session, msg wire.Message) (wire.Ident, bool) {
	if len(msg.Params) != 1 || !msg.Params[0].IsRoom {
		h.send(s, wire.New("ERROR").WithPayload("bad format of room name"))
		return "", false
	}
	return msg.Params[0].Room.Ident, true
}

// teardown tears down s: it is removed from every room (fanning LEFT to
// the remaining members), removed from the user table, and the owning
// Conn is signaled to close. Idempotent.
func (h *Hub) teardown(s *session) {
	if s.state == StateClosing {
		return
	}
	s.state = StateClosing

	for rid := range s.rooms {
		if r, ok := h.rooms[rid]; ok {
			h.leaveRoom(s, r)
		}
	}
	if s.name != "" && h.users[s.name] == s {
		delete(h.users, s.name)
	}
	delete(h.byID, s.id)
	h.requestClose(s)
}

// send enqueues msg on s's outbound channel, evicting s as a slow
// consumer if the queue doesn't drain within sendTimeout.
func (h *Hub) send(s *session, msg wire.Message) {
	select {
	case s.out <- msg:
	case <-time.After(sendTimeout):
		h.logger.Printf("[hub] session %s is a slow consumer, evicting", s.id)
		h.teardown(s)
	}
}

// requestClose signals the Conn owning s to shut down. Closing an
// already-closed channel would panic, so a receive-with-default probes
// first — safe because the Hub is the channel's only closer and runs
// single-threaded.
func (h *Hub) requestClose(s *session) {
	select {
	case <-s.close:
	default:
		close(s.close)
	}
}

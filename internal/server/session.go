package server

import (
	"github.com/google/uuid"

	"ircchat/internal/wire"
)

// sessionState is a connection's registration state. It lives on the
// session record inside the Hub, not as distinct Go types, so the
// session table stays homogeneous and fan-out code never has to
// type-switch on session kind.
type sessionState int

const (
	StateConnected sessionState = iota
	StateRegistered
	StateClosing
)

func (s sessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// session is the Hub's authoritative record of one connected client. It is
// only ever touched from the Hub's run goroutine.
type session struct {
	id    uuid.UUID
	name  wire.Ident // empty until the first successful NAME
	out   chan<- wire.Message
	close chan struct{} // closed by the Hub to request the Conn shut itself down
	rooms map[wire.Ident]struct{}
	state sessionState
}

func newSession(id uuid.UUID, out chan<- wire.Message, closeSig chan struct{}) *session {
	return &session{
		id:    id,
		out:   out,
		close: closeSig,
		rooms: make(map[wire.Ident]struct{}),
		state: StateConnected,
	}
}

func (s *session) user() wire.User { return wire.User{Ident: s.name} }

// room is a named set of member sessions. A room is only ever non-empty —
// the Hub deletes it the instant its last member leaves.
type room struct {
	ident   wire.Ident
	members map[uuid.UUID]*session
}

func newRoom(ident wire.Ident) *room {
	return &room{ident: ident, members: make(map[uuid.UUID]*session)}
}

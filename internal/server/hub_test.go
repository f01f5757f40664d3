package server

import (
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ircchat/internal/wire"
)

// testClient wires up one fake session against a live Hub: a buffered
// outbound channel it can drain, and a close channel it can observe.
type testClient struct {
	t     *testing.T
	hub   *Hub
	id    uuid.UUID
	out   chan wire.Message
	close chan struct{}
}

func newTestClient(t *testing.T, h *Hub) *testClient {
	t.Helper()
	c := &testClient{
		t:     t,
		hub:   h,
		id:    uuid.New(),
		out:   make(chan wire.Message, outboundQueueSize),
		close: make(chan struct{}),
	}
	h.Register(c.id, c.out, c.close)
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	msg, err := wire.ParseLine([]byte(line))
	require.NoError(c.t, err)
	c.hub.InboundOK(c.id, msg)
}

func (c *testClient) recv() wire.Message {
	c.t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(time.Second):
		c.t.Fatalf("timed out waiting for a message")
		return wire.Message{}
	}
}

func (c *testClient) expectNone() {
	c.t.Helper()
	select {
	case m := <-c.out:
		c.t.Fatalf("expected no message, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *testClient) register(name string) {
	c.t.Helper()
	c.send("NAME @" + name)
	reg := c.recv()
	require.Equal(c.t, "REGISTERED", reg.Command)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(log.New(testWriter{t}, "", 0), true)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// testWriter adapts *testing.T into an io.Writer for the Hub's logger.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func TestHub_NameRegistration(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
}

func TestHub_NameCollision(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")

	bob := newTestClient(t, h)
	bob.send("NAME @alice")
	errMsg := bob.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "user already exists @alice", errMsg.Payload)
}

func TestHub_RegistrationRequired(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.send("ROOMS")
	errMsg := alice.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "registration required", errMsg.Payload)
}

func TestHub_UnknownCommand(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	alice.send("DANCE")
	errMsg := alice.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "unknown command", errMsg.Payload)
}

func TestHub_JoinFansOutToRoom(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	joined := alice.recv()
	assert.Equal(t, "JOINED", joined.Command)
	assert.Equal(t, "sports", string(joined.Prefix.Room.Ident))
	assert.Equal(t, "alice", string(joined.Prefix.User.Ident))

	bob.send("JOIN #sports")
	// Both members observe bob's join.
	aliceSees := alice.recv()
	bobSees := bob.recv()
	assert.Equal(t, "JOINED", aliceSees.Command)
	assert.Equal(t, "bob", string(aliceSees.Prefix.User.Ident))
	assert.Equal(t, "JOINED", bobSees.Command)
	assert.Equal(t, "bob", string(bobSees.Prefix.User.Ident))
}

func TestHub_SayRoomReachesAllMembersIncludingSender(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	alice.recv() // own JOINED
	bob.send("JOIN #sports")
	alice.recv() // bob's JOINED
	bob.recv()   // bob's own JOINED

	alice.send("SAY #sports hello everybody!")
	aliceSees := alice.recv()
	bobSees := bob.recv()
	assert.Equal(t, "SAID", aliceSees.Command)
	assert.Equal(t, "hello everybody!", aliceSees.Payload)
	assert.Equal(t, "SAID", bobSees.Command)
	assert.Equal(t, "hello everybody!", bobSees.Payload)
}

func TestHub_SayUserPrivate(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("SAY @bob are you home?")
	bobSees := bob.recv()
	assert.Equal(t, "SAID", bobSees.Command)
	assert.Equal(t, "alice", string(bobSees.Prefix.User.Ident))
	assert.Equal(t, "are you home?", bobSees.Payload)
	alice.expectNone()
}

func TestHub_SayUnknownUser(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")

	alice.send("SAY @ghost hi")
	errMsg := alice.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "user unknown @ghost", errMsg.Payload)
}

func TestHub_SayUnknownRoom(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")

	alice.send("SAY #ghosts hi")
	errMsg := alice.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "room unknown #ghosts", errMsg.Payload)
}

func TestHub_LeaveDeletesEmptyRoom(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	alice.send("JOIN #sports")
	alice.recv()

	alice.send("LEAVE #sports")
	alice.expectNone() // sole member: no LEFT fan-out target remains

	// The room is gone: USERS now reports unknown room.
	alice.send("USERS #sports")
	errMsg := alice.recv()
	assert.Equal(t, "ERROR", errMsg.Command)
	assert.Equal(t, "room unknown #sports", errMsg.Payload)
}

func TestHub_LeaveNotifiesRemainingMembers(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	alice.recv()
	bob.send("JOIN #sports")
	alice.recv()
	bob.recv()

	alice.send("LEAVE #sports")
	bobSees := bob.recv()
	assert.Equal(t, "LEFT", bobSees.Command)
	assert.Equal(t, "alice", string(bobSees.Prefix.User.Ident))
}

func TestHub_UsersListsMembers(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	alice.recv()
	bob.send("JOIN #sports")
	alice.recv()
	bob.recv()

	alice.send("USERS #sports")
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		u := alice.recv()
		require.Equal(t, "USER", u.Command)
		seen[string(u.Params[0].User.Ident)] = true
	}
	assert.True(t, seen["alice"])
	assert.True(t, seen["bob"])
}

func TestHub_RoomsEmptyYieldsNoLines(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")

	alice.send("ROOMS")
	alice.expectNone()
}

func TestHub_QuitLeavesRoomsAndFreesName(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	alice.recv()
	bob.send("JOIN #sports")
	alice.recv()
	bob.recv()

	alice.send("QUIT")
	bobSees := bob.recv()
	assert.Equal(t, "LEFT", bobSees.Command)

	// alice's name is free again.
	carol := newTestClient(t, h)
	carol.send("NAME @alice")
	reg := carol.recv()
	assert.Equal(t, "REGISTERED", reg.Command)
}

func TestHub_SlowConsumerEvicted(t *testing.T) {
	old := sendTimeout
	sendTimeout = 20 * time.Millisecond
	t.Cleanup(func() { sendTimeout = old })

	h := newTestHub(t)
	alice := newTestClient(t, h)
	alice.register("alice")
	bob := newTestClient(t, h)
	bob.register("bob")

	alice.send("JOIN #sports")
	alice.recv()
	bob.send("JOIN #sports")
	alice.recv() // bob's JOINED
	bob.recv()   // bob's own JOINED

	// Fill bob's queue without draining it, then force one more fan-out
	// past capacity so the Hub's send to bob blocks past sendTimeout.
	for i := 0; i < outboundQueueSize; i++ {
		alice.send("SAY #sports filler")
		alice.recv()
	}
	alice.send("SAY #sports tips it over")
	alice.recv()

	select {
	case <-bob.close:
	case <-time.After(time.Second):
		t.Fatal("expected bob's session to be closed as a slow consumer")
	}
}

package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"ircchat/internal/wire"
)

// outboundQueueSize is the bounded capacity of a session's outbound
// channel.
const outboundQueueSize = 64

// idleTimeout, pongDeadline, and writeDrainGrace are the liveness
// monitor's timers and the writer's shutdown grace. They are vars rather
// than consts so tests can shrink them instead of sleeping through the
// production values.
var (
	idleTimeout     = 60 * time.Second
	pongDeadline    = 30 * time.Second
	writeDrainGrace = 2 * time.Second
)

// Conn owns one accepted TCP socket and splits its work into a reader, a
// writer, and a liveness monitor confined to a single cancellation scope.
// Adapted from server/client.go's readPump/writePump pair, which relied
// solely on socket-close propagation; the liveness goroutine and its
// shared cancellation scope are new.
type Conn struct {
	id     uuid.UUID
	socket net.Conn
	hub    *Hub
	out    chan wire.Message
	sig    chan struct{}
	logger *log.Logger
	trace  bool
}

// NewConn wraps an accepted socket for registration with hub.
func NewConn(socket net.Conn, hub *Hub, logger *log.Logger, trace bool) *Conn {
	return &Conn{
		id:     uuid.New(),
		socket: socket,
		hub:    hub,
		out:    make(chan wire.Message, outboundQueueSize),
		sig:    make(chan struct{}),
		logger: logger,
		trace:  trace,
	}
}

// Serve runs the Connection Actor to completion: it registers with the
// Hub, launches the reader/writer/liveness goroutines plus watchClose, and
// blocks until all four have exited, then reports the close to the Hub
// and closes the socket. Call it once per
// accepted connection, typically via `go conn.Serve(ctx)`.
func (c *Conn) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.socket.Close()

	c.hub.Register(c.id, c.out, c.sig)
	c.enqueue(wire.New("CONNECTED"))

	activity := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); c.readLoop(ctx, cancel, activity) }()
	go func() { defer wg.Done(); c.writeLoop(ctx) }()
	go func() { defer wg.Done(); c.livenessLoop(ctx, cancel, activity) }()
	go func() { defer wg.Done(); c.watchClose(ctx, cancel) }()
	wg.Wait()

	c.hub.Closed(c.id)
}

// watchClose cancels the connection's scope when the Hub requests a
// close, and — for any reason the scope is cancelled — nudges a blocked
// socket read to return promptly by forcing its deadline, without closing
// the socket outright so the writer still gets its drain grace.
func (c *Conn) watchClose(ctx context.Context, cancel context.CancelFunc) {
	select {
	case <-c.sig:
		cancel()
	case <-ctx.Done():
	}
	c.socket.SetReadDeadline(time.Now())
}

// enqueue offers msg to the outbound queue without blocking. It is only
// used for the initial CONNECTED line, sent before any fan-out could
// possibly contend for the queue.
func (c *Conn) enqueue(msg wire.Message) {
	select {
	case c.out <- msg:
	default:
	}
}

func (c *Conn) logf(format string, args ...any) {
	if c.trace {
		c.logger.Printf("[conn %s] "+format, append([]any{c.id}, args...)...)
	}
}

// readLoop frames inbound bytes on '\n', parses each line, and forwards
// the result to the Hub. Parse failures are reported but never stop the
// loop — the session stays open. EOF or a socket error cancels the
// connection's scope, which the Hub observes via Conn.Serve's closing
// Hub.Closed call.
func (c *Conn) readLoop(ctx context.Context, cancel context.CancelFunc, activity chan<- struct{}) {
	defer cancel()

	lr := newLineReader(c.socket, wire.MaxLineLen)
	for {
		line, tooLong, err := lr.readLine()
		if err != nil {
			var netErr net.Error
			if !errors.Is(err, io.EOF) && !(errors.As(err, &netErr) && netErr.Timeout()) {
				c.logf("read error: %v", err)
			}
			return
		}
		select {
		case activity <- struct{}{}:
		default:
		}

		if tooLong {
			c.hub.InboundErr(c.id, &wire.ParseError{Reason: wire.ReasonTooLong})
			continue
		}

		msg, perr := wire.ParseLine(line)
		if perr != nil {
			var pe *wire.ParseError
			if errors.As(perr, &pe) {
				c.hub.InboundErr(c.id, pe)
			}
			continue
		}
		c.hub.InboundOK(c.id, msg)
	}
}

// writeLoop drains the outbound channel and writes each serialized
// message to the socket. It is the socket's sole writer. On
// cancellation it keeps draining for up to writeDrainGrace so replies
// already in flight (e.g. a final ERROR) still reach the client.
func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case msg := <-c.out:
			c.writeOne(msg)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Conn) drain() {
	deadline := time.NewTimer(writeDrainGrace)
	defer deadline.Stop()
	for {
		select {
		case msg := <-c.out:
			c.writeOne(msg)
		case <-deadline.C:
			return
		}
	}
}

func (c *Conn) writeOne(msg wire.Message) {
	data, err := msg.Serialize()
	if err != nil {
		c.logf("refusing to serialize outbound message: %v", err)
		return
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeDrainGrace))
	if _, err := c.socket.Write(data); err != nil {
		c.logf("write error: %v", err)
	}
}

// livenessLoop runs the two liveness timers: an idle timeout that
// triggers a PING, and a pong deadline that tears the connection down if
// no activity follows. Any inbound byte (reported via activity) resets
// the idle timeout and cancels a pending pong deadline.
func (c *Conn) livenessLoop(ctx context.Context, cancel context.CancelFunc, activity <-chan struct{}) {
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	var pong *time.Timer
	stopPong := func() {
		if pong != nil {
			pong.Stop()
			pong = nil
		}
	}
	defer stopPong()

	for {
		var pongC <-chan time.Time
		if pong != nil {
			pongC = pong.C
		}

		select {
		case <-ctx.Done():
			return

		case <-activity:
			stopPong()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)

		case <-idle.C:
			c.enqueuePing()
			pong = time.NewTimer(pongDeadline)

		case <-pongC:
			c.logf("pong deadline expired, closing")
			cancel()
			return
		}
	}
}

func (c *Conn) enqueuePing() {
	select {
	case c.out <- wire.New("PING"):
	case <-time.After(sendTimeout):
		c.logf("outbound queue full, dropping PING")
	}
}

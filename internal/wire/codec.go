package wire

import (
	"bytes"
	"fmt"
	"strings"
)

// MaxLineLen is the maximum serialized length of a message, including the
// terminating '\n'.
const MaxLineLen = 1024

// ParseLine parses a single line (without its trailing '\n') into a
// Message. It is a hand-written byte scanner — no regexp, no allocation
// beyond the tokens it must keep.
func ParseLine(line []byte) (Message, error) {
	if len(line)+1 > MaxLineLen {
		return Message{}, newParseError(ReasonTooLong, fmt.Sprintf("%d bytes", len(line)+1))
	}

	var msg Message
	pos := 0

	tok, next, ok := scanToken(line, pos)
	if !ok {
		return Message{}, newParseError(ReasonBadCommand, "empty line")
	}

	switch {
	case len(tok) > 0 && tok[0] == '#':
		room, err := ParseRoom(string(tok))
		if err != nil {
			return Message{}, err
		}
		utok, unext, uok := scanToken(line, next)
		if !uok || len(utok) == 0 || utok[0] != '@' {
			return Message{}, newParseError(ReasonBadParam, "room prefix must be followed by a user")
		}
		user, err := ParseUser(string(utok))
		if err != nil {
			return Message{}, err
		}
		msg.Prefix = Prefix{Has: true, Room: room, User: user}
		tok, next, ok = scanToken(line, unext)

	case len(tok) > 0 && tok[0] == '@':
		user, err := ParseUser(string(tok))
		if err != nil {
			return Message{}, err
		}
		msg.Prefix = Prefix{Has: true, User: user}
		tok, next, ok = scanToken(line, next)
	}

	if !ok || !isCommandToken(tok) {
		return Message{}, newParseError(ReasonBadCommand, fmt.Sprintf("%q", tok))
	}
	msg.Command = string(tok)
	pos = next

	for {
		ptok, pnext, pok := scanToken(line, pos)
		if !pok || len(ptok) == 0 {
			break
		}
		switch ptok[0] {
		case '@':
			u, err := ParseUser(string(ptok))
			if err != nil {
				return Message{}, err
			}
			msg.Params = append(msg.Params, UserParam(u))
			pos = pnext
		case '#':
			r, err := ParseRoom(string(ptok))
			if err != nil {
				return Message{}, err
			}
			msg.Params = append(msg.Params, RoomParam(r))
			pos = pnext
		default:
			goto payload
		}
	}
payload:
	if pos < len(line) {
		msg.Payload = string(line[pos:])
		msg.HasPayload = len(msg.Payload) > 0
	}
	return msg, nil
}

// scanToken returns the token starting at pos (up to the next single-space
// separator or end of line) and the position just past its separator.
func scanToken(line []byte, pos int) (tok []byte, next int, ok bool) {
	if pos >= len(line) {
		return nil, pos, false
	}
	if idx := bytes.IndexByte(line[pos:], ' '); idx >= 0 {
		return line[pos : pos+idx], pos + idx + 1, true
	}
	return line[pos:], len(line), true
}

func isCommandToken(tok []byte) bool {
	if len(tok) == 0 {
		return false
	}
	for _, b := range tok {
		if b < 'A' || b > 'Z' {
			return false
		}
	}
	return true
}

// Serialize renders m into the wire grammar: prefix?, command, params,
// payload?, each separated by a single space, terminated by '\n'. It
// refuses (returns an error) rather than emit a line exceeding MaxLineLen
// or an otherwise malformed Message — that indicates a programmer error,
// never bad network input.
func (m Message) Serialize() ([]byte, error) {
	if !isCommandToken([]byte(m.Command)) {
		return nil, fmt.Errorf("wire: invalid command %q", m.Command)
	}

	var buf bytes.Buffer
	if m.Prefix.Has {
		if !m.Prefix.Room.IsZero() {
			buf.WriteString(m.Prefix.Room.String())
			buf.WriteByte(' ')
		}
		if m.Prefix.User.IsZero() {
			return nil, fmt.Errorf("wire: prefix present but user is zero")
		}
		buf.WriteString(m.Prefix.User.String())
		buf.WriteByte(' ')
	}

	buf.WriteString(m.Command)

	for _, p := range m.Params {
		buf.WriteByte(' ')
		buf.WriteString(p.String())
	}

	if m.HasPayload {
		if m.Payload == "" {
			return nil, fmt.Errorf("wire: HasPayload is set but Payload is empty")
		}
		if strings.IndexByte(m.Payload, '\n') >= 0 {
			return nil, fmt.Errorf("wire: payload must not contain '\\n'")
		}
		buf.WriteByte(' ')
		buf.WriteString(m.Payload)
	}

	buf.WriteByte('\n')

	if buf.Len() > MaxLineLen {
		return nil, fmt.Errorf("wire: serialized message is %d bytes, exceeds %d", buf.Len(), MaxLineLen)
	}
	return buf.Bytes(), nil
}

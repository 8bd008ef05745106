package streamlabs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine.IO packet types (protocol v3, which the Streamlabs socket speaks).
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO packet types carried inside an Engine.IO message.
const (
	socketConnect    = '0'
	socketDisconnect = '1'
	socketEvent      = '2'
	socketError      = '4'
)

var (
	// ErrClosed reports that the server closed the socket.
	ErrClosed = errors.New("socket closed by server")
	// ErrRejected reports a Socket.IO error packet, usually a bad token.
	ErrRejected = errors.New("socket rejected")
)

type frameKind int

const (
	frameIgnore frameKind = iota
	frameOpen
	framePing
	frameConnect
	frameEvent
)

// frame is one decoded text message.
type frame struct {
	kind      frameKind
	handshake handshake
	// pingData is echoed back in the pong.
	pingData string
	name     string
	data     map[string]any
}

type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func (h handshake) interval() time.Duration { return time.Duration(h.PingInterval) * time.Millisecond }
func (h handshake) timeout() time.Duration  { return time.Duration(h.PingTimeout) * time.Millisecond }

// parseFrame decodes an Engine.IO text message. Socket errors are returned
// as ErrRejected or ErrClosed; undecodable event bodies as other errors.
func parseFrame(msg string) (frame, error) {
	if msg == "" {
		return frame{}, nil
	}
	body := msg[1:]
	switch msg[0] {
	case engineOpen:
		var h handshake
		if err := json.Unmarshal([]byte(body), &h); err != nil {
			return frame{}, fmt.Errorf("decode handshake: %w", err)
		}
		return frame{kind: frameOpen, handshake: h}, nil
	case engineClose:
		return frame{}, ErrClosed
	case enginePing:
		return frame{kind: framePing, pingData: body}, nil
	case enginePong, engineNoop:
		return frame{}, nil
	case engineMessage:
		return parseSocketPacket(body)
	}
	return frame{}, fmt.Errorf("unknown engine packet %q", msg[0])
}

func parseSocketPacket(p string) (frame, error) {
	if p == "" {
		return frame{}, nil
	}
	body := skipNamespace(p[1:])
	switch p[0] {
	case socketConnect:
		return frame{kind: frameConnect}, nil
	case socketDisconnect:
		return frame{}, ErrClosed
	case socketError:
		return frame{}, fmt.Errorf("%w: %s", ErrRejected, strings.Trim(body, `"`))
	case socketEvent:
		body = strings.TrimLeft(body, "0123456789")
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(body), &args); err != nil {
			return frame{}, fmt.Errorf("decode event packet: %w", err)
		}
		if len(args) == 0 {
			return frame{}, errors.New("event packet without name")
		}
		f := frame{kind: frameEvent}
		if err := json.Unmarshal(args[0], &f.name); err != nil {
			return frame{}, fmt.Errorf("decode event name: %w", err)
		}
		if len(args) > 1 {
			// Non-object payloads are not alerts; leave data nil.
			_ = json.Unmarshal(args[1], &f.data)
		}
		return f, nil
	}
	return frame{}, nil
}

// skipNamespace drops a "/nsp," prefix.
func skipNamespace(s string) string {
	if !strings.HasPrefix(s, "/") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return ""
}

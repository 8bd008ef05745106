package streamlabs

import (
	"errors"
	"testing"
	"time"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantKind frameKind
		wantErr  error
		anyErr   bool
		check    func(t *testing.T, f frame)
	}{
		{name: "empty", msg: "", wantKind: frameIgnore},
		{
			name:     "open",
			msg:      `0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":60000}`,
			wantKind: frameOpen,
			check: func(t *testing.T, f frame) {
				if f.handshake.SID != "abc" || f.handshake.interval() != 25*time.Second || f.handshake.timeout() != time.Minute {
					t.Errorf("handshake = %+v", f.handshake)
				}
			},
		},
		{name: "bad open", msg: `0{nope`, anyErr: true},
		{name: "engine close", msg: "1", wantErr: ErrClosed},
		{
			name:     "ping with payload",
			msg:      "2ping-data",
			wantKind: framePing,
			check: func(t *testing.T, f frame) {
				if f.pingData != "ping-data" {
					t.Errorf("pingData = %q", f.pingData)
				}
			},
		},
		{name: "pong", msg: "3", wantKind: frameIgnore},
		{name: "noop", msg: "6", wantKind: frameIgnore},
		{name: "connect", msg: "40", wantKind: frameConnect},
		{name: "namespaced connect", msg: "40/alerts,", wantKind: frameConnect},
		{name: "socket disconnect", msg: "41", wantErr: ErrClosed},
		{name: "socket error", msg: `44"Unauthorized"`, wantErr: ErrRejected},
		{
			name:     "event",
			msg:      `42["event",{"type":"donation","message":[{"name":"Ann"}]}]`,
			wantKind: frameEvent,
			check: func(t *testing.T, f frame) {
				if f.name != "event" || f.data["type"] != "donation" {
					t.Errorf("frame = %+v", f)
				}
			},
		},
		{
			name:     "event with ack id",
			msg:      `4212["event",{"type":"follow"}]`,
			wantKind: frameEvent,
			check: func(t *testing.T, f frame) {
				if f.data["type"] != "follow" {
					t.Errorf("data = %v", f.data)
				}
			},
		},
		{
			name:     "event with scalar payload",
			msg:      `42["event","hello"]`,
			wantKind: frameEvent,
			check: func(t *testing.T, f frame) {
				if f.data != nil {
					t.Errorf("scalar payload decoded as %v", f.data)
				}
			},
		},
		{name: "truncated event", msg: `42["event",`, anyErr: true},
		{name: "event without name", msg: `42[]`, anyErr: true},
		{name: "unknown engine packet", msg: "9", anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFrame(tt.msg)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseFrame(%q) error = %v, want %v", tt.msg, err, tt.wantErr)
				}
				return
			case tt.anyErr:
				if err == nil {
					t.Fatalf("parseFrame(%q) expected error", tt.msg)
				}
				if errors.Is(err, ErrClosed) || errors.Is(err, ErrRejected) {
					t.Fatalf("decode failure reported as socket error: %v", err)
				}
				return
			case err != nil:
				t.Fatalf("parseFrame(%q) error: %v", tt.msg, err)
			}
			if f.kind != tt.wantKind {
				t.Fatalf("kind = %v, want %v", f.kind, tt.wantKind)
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

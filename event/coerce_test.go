package event

import (
	"encoding/json"
	"testing"
)

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"nil", nil, 0, false},
		{"blank", "   ", 0, false},
		{"digits", "42", 42, true},
		{"padded digits", " 17 ", 17, true},
		{"float string", "3.9", 3, true},
		{"negative", "-5", -5, true},
		{"float", 12.7, 12, true},
		{"int", 8, 8, true},
		{"json number", json.Number("99"), 99, true},
		{"word", "twelve", 0, false},
		{"bool", true, 0, false},
		{"map", map[string]any{}, 0, false},
		{"huge", 1e300, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("SafeInt(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSafeFloat(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{"5.25", 5.25, true},
		{" 10 ", 10, true},
		{"", 0, false},
		{"NaN", 0, false},
		{"abc", 0, false},
		{7, 7, true},
	}
	for _, tt := range tests {
		got, ok := SafeFloat(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("SafeFloat(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStreamIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?feature=share&v=abc", "abc"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/live/dQw4w9WgXcQ/", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/@channel/live", "https://www.youtube.com/@channel/live"},
		{"https://www.youtube.com/watch?v=", "https://www.youtube.com/watch?v="},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"not a url", "not a url"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := StreamIdentifier(tt.in); got != tt.want {
				t.Errorf("StreamIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

package listener

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chat-relay/event"
	"github.com/onnwee/chat-relay/relay"
	"github.com/onnwee/chat-relay/shutdown"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []event.Event {
	t.Helper()
	b.mu.Lock()
	data := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()
	var out []event.Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		ev, err := event.Parse(sc.Bytes())
		if err != nil {
			t.Fatalf("bad record %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func newRelay(out *syncBuffer) *relay.Relay {
	return relay.New(relay.Options{
		Platform: "youtube",
		Output:   out,
		Stop:     shutdown.New(context.Background()),
	})
}

// scriptedFeed fails connect a fixed number of times, then serves sessions
// that deliver one chat line and end.
type scriptedFeed struct {
	mu         sync.Mutex
	failures   int
	connectErr error
	connects   int
	// batchesAt records the connect count at each NextBatch call.
	batchesAt []int
}

func (f *scriptedFeed) Name() string { return "scripted" }

func (f *scriptedFeed) Connect(context.Context, string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failures {
		return nil, f.connectErr
	}
	return &scriptedSession{feed: f}, nil
}

func (f *scriptedFeed) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *scriptedFeed) batchConnects() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batchesAt...)
}

type scriptedSession struct {
	feed       *scriptedFeed
	mu         sync.Mutex
	delivered  bool
	terminated bool
}

func (s *scriptedSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.delivered
}

func (s *scriptedSession) NextBatch(context.Context) ([]event.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = true
	s.feed.mu.Lock()
	s.feed.batchesAt = append(s.feed.batchesAt, s.feed.connects)
	s.feed.mu.Unlock()
	return []event.Raw{{Tag: event.TagChat, Fields: map[string]any{"author": "a", "message": "hello"}}}, nil
}

func (s *scriptedSession) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	return nil
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateStreaming, "streaming"},
		{StateReconnecting, "reconnecting"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestReconnectBound(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 1000, connectErr: errors.New("connection reset by peer")}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", Backoff: 10 * time.Second})

	// Each backoff "elapses" instantly but is counted; stop after the fourth.
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	sup.sleep = func(d time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		if len(sleeps) == 4 {
			r.Stop().Stop()
			return false
		}
		return true
	}

	if err := sup.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := feed.connectCount(); got != 4 {
		t.Errorf("connect attempts = %d, want one per backoff window (4)", got)
	}
	for i, d := range sleeps {
		if d != 10*time.Second {
			t.Errorf("sleep %d = %v, want 10s backoff", i, d)
		}
	}
	if sup.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", sup.State())
	}

	warnings := 0
	for _, ev := range out.events(t) {
		if ev.Kind() == event.KindLog && ev.Level() == event.LevelWarning {
			warnings++
		}
	}
	if warnings != 4 {
		t.Errorf("warning log events = %d, want 4 (one per failed attempt)", warnings)
	}
}

func TestReconnectBoundBeforeFirstSession(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 3, connectErr: errors.New("connection reset by peer")}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", PollInterval: time.Millisecond, Backoff: 10 * time.Second})

	var (
		mu              sync.Mutex
		sleeps          []time.Duration
		sleepsAtConnect = -1
	)
	sup.sleep = func(d time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		return true
	}
	sup.OnTransition = func(_, to State) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case to == StateStreaming && sleepsAtConnect < 0:
			sleepsAtConnect = len(sleeps)
		case to == StateReconnecting && sleepsAtConnect >= 0:
			// The first session delivered its line and ended.
			r.Stop().Stop()
		}
	}

	if err := sup.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if sleepsAtConnect != 3 {
		t.Fatalf("backoff sleeps before first streaming = %d, want 3", sleepsAtConnect)
	}
	for i, d := range sleeps[:sleepsAtConnect] {
		if d != 10*time.Second {
			t.Errorf("sleep %d = %v, want 10s backoff", i, d)
		}
	}
	if got := feed.connectCount(); got != 4 {
		t.Errorf("connect attempts = %d, want 4", got)
	}
	batches := feed.batchConnects()
	if len(batches) == 0 {
		t.Fatal("NextBatch never called")
	}
	for _, n := range batches {
		if n < 4 {
			t.Errorf("NextBatch called after connect #%d, want none before connect #4", n)
		}
	}

	var chats []string
	for _, ev := range out.events(t) {
		if ev.Kind() == event.KindChat {
			chats = append(chats, ev.Message())
		}
	}
	if len(chats) != 1 || chats[0] != "hello" {
		t.Errorf("chat lines = %q, want [hello]", chats)
	}
}

func TestDialErrorWithPortDigitsRetries(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 1, connectErr: errors.New("dial tcp 10.0.0.7:4010: connect: connection refused")}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", PollInterval: time.Millisecond, Backoff: time.Millisecond})

	var streamed bool
	sup.OnTransition = func(_, to State) {
		if to == StateStreaming {
			streamed = true
			r.Stop().Stop()
		}
	}

	if err := sup.Run(); err != nil {
		t.Fatalf("Run() error = %v, want retry then clean stop", err)
	}
	if !streamed {
		t.Error("supervisor never reached streaming after the dial error")
	}
	if got := feed.connectCount(); got != 2 {
		t.Errorf("connect attempts = %d, want 2", got)
	}
	for _, ev := range out.events(t) {
		if ev.Kind() == event.KindError {
			t.Errorf("dial error emitted an error event: %q", ev.Message())
		}
	}
}

func TestSupervisorTransitionsAndDelivery(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 1, connectErr: errors.New("503 service unavailable")}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", PollInterval: time.Millisecond, Backoff: time.Millisecond})

	var (
		mu    sync.Mutex
		trail []State
	)
	sup.OnTransition = func(_, to State) {
		mu.Lock()
		defer mu.Unlock()
		trail = append(trail, to)
		// Stop once the second session has ended.
		if to == StateReconnecting && len(trail) >= 5 {
			r.Stop().Stop()
		}
	}

	if err := sup.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{StateConnecting, StateReconnecting, StateConnecting, StateStreaming, StateReconnecting, StateStopped}
	mu.Lock()
	defer mu.Unlock()
	if len(trail) != len(want) {
		t.Fatalf("transitions = %v, want %v", trail, want)
	}
	for i := range want {
		if trail[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", trail, want)
		}
	}

	chats := 0
	for _, ev := range out.events(t) {
		if ev.Kind() == event.KindChat {
			chats++
		}
	}
	if chats != 1 {
		t.Errorf("chat events = %d, want 1", chats)
	}
}

func TestSupervisorFatalStops(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 1, connectErr: Fatal(errors.New("bad credentials"))}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", Backoff: time.Millisecond})

	err := sup.Run()
	if !IsFatal(err) {
		t.Fatalf("Run() error = %v, want fatal", err)
	}
	if !r.Stop().Stopped() {
		t.Error("fatal error did not set the stop latch")
	}
	var sawError bool
	for _, ev := range out.events(t) {
		if ev.Kind() == event.KindError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("fatal error did not emit an error event")
	}
}

func TestShutdownLatencyDuringBackoff(t *testing.T) {
	var out syncBuffer
	r := newRelay(&out)
	feed := &scriptedFeed{failures: 1000, connectErr: errors.New("timeout")}
	sup := NewSupervisor(r, feed, Config{Identifier: "abc", Backoff: 10 * time.Second})

	done := make(chan error, 1)
	go func() { done <- sup.Run() }()

	deadline := time.Now().Add(2 * time.Second)
	for sup.State() != StateReconnecting && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	start := time.Now()
	r.Stop().Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not observe stop during backoff")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop observed after %v, want well under the 10s backoff", elapsed)
	}
}

func TestPlaceholderFeed(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPlaceholder(5 * time.Second)
	p.Now = func() time.Time { return clock }

	sess, err := p.Connect(context.Background(), "abc")
	if err != nil {
		t.Fatal(err)
	}
	first, _ := sess.NextBatch(context.Background())
	if len(first) != 1 || first[0].Tag != event.TagChat || first[0].Fields[event.FieldMessage] != "Simulated relay for abc" {
		t.Fatalf("first batch = %v", first)
	}
	if batch, _ := sess.NextBatch(context.Background()); len(batch) != 0 {
		t.Fatalf("heartbeat before interval: %v", batch)
	}
	clock = clock.Add(5 * time.Second)
	hb, _ := sess.NextBatch(context.Background())
	if len(hb) != 1 || hb[0].Tag != event.TagHeartbeat || hb[0].Fields["streamIdentifier"] != "abc" {
		t.Fatalf("heartbeat batch = %v", hb)
	}
	if !sess.Alive() {
		t.Error("placeholder session should stay alive")
	}
}

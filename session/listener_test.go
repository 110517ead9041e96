package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type eventLog struct {
	mu     sync.Mutex
	events []ListeningEvent
}

func (l *eventLog) add(ev ListeningEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) has(eventType, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.EventType == eventType && (message == "" || ev.Message == message) {
			return true
		}
	}
	return false
}

func TestListener_AlreadyListening(t *testing.T) {
	h := newTestHandler(t, &fakeRecorder{}, &fakeTranscriber{})

	if err := h.StartBackgroundListening(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.IsBackgroundListening() || !h.GetRecordingStatus().IsListening {
		t.Fatal("listening flag must be set")
	}
	if err := h.StartBackgroundListening(); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
	if err := h.StopBackgroundListening(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.IsBackgroundListening() {
		t.Fatal("listening flag must be cleared")
	}
	if err := h.StartBackgroundListening(); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestListener_StopForcesRecordingStop(t *testing.T) {
	rec := &fakeRecorder{onStart: []float32{0.5}}
	cfg := fastConfig()
	cfg.MaxDuration = time.Minute
	cfg.WakeWindow = time.Hour
	h := NewHandler(rec, &fakeTranscriber{}, cfg)
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close(time.Second) })

	if err := h.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if err := h.StartBackgroundListening(); err != nil {
		t.Fatal(err)
	}
	if err := h.StopBackgroundListening(); err != nil {
		t.Fatal(err)
	}
	if h.GetRecordingStatus().IsRecording || rec.isRecording() {
		t.Fatal("stopping background listening must stop the recording")
	}
}

func TestListener_ManualStopLeavesWakeWindow(t *testing.T) {
	rec := &fakeRecorder{onStart: make([]float32, 4800)}
	tr := &fakeTranscriber{respond: fixedText("background chatter")}
	cfg := fastConfig()
	cfg.WakeWindow = time.Hour
	h := NewHandler(rec, tr, cfg)
	if err := h.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close(time.Second) })

	if err := h.StartBackgroundListening(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.state.current() == ModeWakeCapture })

	if st := h.GetRecordingStatus(); st.IsRecording || !st.IsListening {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := h.StopRecordingAndTranscribe(context.Background()); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}
	if h.state.current() != ModeWakeCapture || !rec.isRecording() {
		t.Fatal("wake window must keep capturing")
	}
	if got := tr.lastLength(); got != -1 {
		t.Fatalf("wake window audio was transcribed (%d)", got)
	}
}

func TestListener_WakeWordThenCommand(t *testing.T) {
	rec := &fakeRecorder{onStart: make([]float32, 4800)}
	tr := &fakeTranscriber{respond: func(call int) (string, error) {
		switch call {
		case 1:
			return "okay computer", nil
		case 2:
			return "hello there", nil
		default:
			return "", nil
		}
	}}
	h := newTestHandler(t, rec, tr)

	events := &eventLog{}
	h.OnEvent(events.add)
	commands := make(chan VoiceCommand, 1)
	h.OnCommand(func(cmd VoiceCommand) {
		select {
		case commands <- cmd:
		default:
		}
	})

	if err := h.StartBackgroundListening(); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-commands:
		if cmd.Text != "hello there" {
			t.Fatalf("command text = %q", cmd.Text)
		}
		if intent, _ := h.ProcessCommand(cmd); intent != IntentGreeting {
			t.Fatalf("intent = %q", intent)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no command delivered")
	}

	waitFor(t, func() bool { return events.has(EventCommand, "hello there") })
	if !events.has(EventWakeWord, "computer") {
		t.Fatal("wake word event missing")
	}
	if !events.has(EventListeningStarted, "") {
		t.Fatal("started event missing")
	}

	h.Close(time.Second)
	if !events.has(EventListeningStopped, "") {
		t.Fatal("stopped event missing")
	}
}

func TestListener_ShortWindowNotTranscribed(t *testing.T) {
	// 300 сэмплов 48kHz -> 100 при 16kHz, меньше порога
	rec := &fakeRecorder{onStart: make([]float32, 300)}
	tr := &fakeTranscriber{respond: fixedText("computer")}
	h := newTestHandler(t, rec, tr)

	if err := h.StartBackgroundListening(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.starts >= 3
	})
	h.Close(time.Second)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.calls != 0 {
		t.Fatalf("short windows must not be transcribed, got %d calls", tr.calls)
	}
}

func TestListener_ErrorEventKeepsLooping(t *testing.T) {
	rec := &fakeRecorder{onStart: make([]float32, 4800)}
	tr := &fakeTranscriber{respond: func(int) (string, error) { return "", errors.New("decoder busy") }}
	h := newTestHandler(t, rec, tr)

	events := &eventLog{}
	h.OnEvent(events.add)
	if err := h.StartBackgroundListening(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.calls >= 2
	})
	if !events.has(EventError, "decoder busy") {
		t.Fatal("error event missing")
	}
	if !h.IsBackgroundListening() {
		t.Fatal("loop must keep listening after errors")
	}
}

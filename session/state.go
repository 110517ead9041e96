package session

import (
	"sync"
	"time"
)

// Mode режим записи обработчика
type Mode int

const (
	ModeIdle Mode = iota
	ModeManual
	ModeVAD
	ModeWakeCapture
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeVAD:
		return "vad"
	case ModeWakeCapture:
		return "wake_capture"
	default:
		return "unknown"
	}
}

// Recording true для записей, инициированных пользователем.
// Окна прослушивания слова активации сюда не входят.
func (m Mode) Recording() bool {
	return m == ModeManual || m == ModeVAD
}

type stateSnapshot struct {
	Initialized bool
	Listening   bool
	Mode        Mode
	Elapsed     time.Duration
}

// state держит связанные флаги под одним мьютексом.
// Снаружи доступны только переходы.
type state struct {
	mu          sync.Mutex
	initialized bool
	listening   bool
	mode        Mode
	token       uint64 // растёт с каждой записью
	startedAt   time.Time
	now         func() time.Time
}

func newState() *state {
	return &state{now: time.Now}
}

func (s *state) markInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

func (s *state) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// begin переводит в режим записи и возвращает токен владельца
func (s *state) begin(mode Mode) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	s.mode = mode
	s.startedAt = s.now()
	return s.token
}

func (s *state) current() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// active true пока запись с токеном не завершена и не перехвачена
func (s *state) active(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode != ModeIdle && s.token == token
}

// finish переводит в Idle только если запись всё ещё принадлежит токену
func (s *state) finish(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeIdle || s.token != token {
		return false
	}
	s.mode = ModeIdle
	return true
}

// finishAny завершает любую запись, возвращает прежний режим
func (s *state) finishAny() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.mode
	s.mode = ModeIdle
	return prev
}

// stopUser завершает только пользовательскую запись (Manual или VAD).
// Окно слова активации остаётся за слушателем. Возвращает текущий режим
// и true, если запись была завершена.
func (s *state) stopUser() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.mode
	if !prev.Recording() {
		return prev, false
	}
	s.mode = ModeIdle
	return prev, true
}

// setListening возвращает прежнее значение
func (s *state) setListening(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.listening
	s.listening = v
	return prev
}

func (s *state) snapshot() stateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		Initialized: s.initialized,
		Listening:   s.listening,
		Mode:        s.mode,
	}
	if s.mode != ModeIdle {
		snap.Elapsed = s.now().Sub(s.startedAt)
	}
	return snap
}

package session

import "errors"

var (
	ErrNotInitialized     = errors.New("voice system not initialized")
	ErrModelLoad          = errors.New("failed to load model")
	ErrEmptyRecording     = errors.New("no audio recorded")
	ErrTranscribe         = errors.New("transcription failed")
	ErrAlreadyListening   = errors.New("already listening")
	ErrRecordingCancelled = errors.New("recording cancelled")
)

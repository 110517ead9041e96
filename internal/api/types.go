package api

import (
	"kiku/audio"
	"kiku/session"
)

// Типы запросов управления
const (
	TypeInitialize               = "initialize"
	TypeStartRecording           = "start_recording"
	TypeStopRecording            = "stop_recording"
	TypeGetStatus                = "get_status"
	TypeProcessCommand           = "process_command"
	TypeIsInitialized            = "is_initialized"
	TypeStartBackgroundListening = "start_background_listening"
	TypeStopBackgroundListening  = "stop_background_listening"
	TypeIsBackgroundListening    = "is_background_listening"
	TypeRecordCommandWithVAD     = "record_command_with_vad"
	TypeListAudioDevices         = "list_audio_devices"
	TypeSetAudioDevice           = "set_audio_device"
	TypeLogCommand               = "log_command"
	TypeGetLastLog               = "get_last_log"
)

// Типы сообщений от сервера
const (
	TypeError          = "error"
	TypeListeningEvent = "listening_event"
	TypeVoiceCommand   = "voice_command"

	resultSuffix = "_result"
)

// Message сообщение WebSocket и gRPC потока.
// Ответ на запрос X имеет тип X_result, ошибка - тип error с запросом в Data.
type Message struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`

	// Параметры запросов
	ModelPath string  `json:"modelPath,omitempty"`
	Device    *string `json:"device,omitempty"`

	// Ответы
	Command     *session.VoiceCommand    `json:"command,omitempty"`
	Status      *session.RecordingStatus `json:"status,omitempty"`
	Devices     []audio.DeviceInfo       `json:"devices,omitempty"`
	Intent      string                   `json:"intent,omitempty"`
	Matched     bool                     `json:"matched,omitempty"`
	Initialized bool                     `json:"initialized,omitempty"`
	Listening   bool                     `json:"listening,omitempty"`

	// События фонового прослушивания
	Event *session.ListeningEvent `json:"event,omitempty"`
}

func resultType(request string) string {
	return request + resultSuffix
}

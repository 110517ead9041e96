// Package api отдаёт голосовой сервис клиентам по WebSocket и gRPC.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"kiku/internal/observe"
	"kiku/internal/service"
	"kiku/session"
)

const (
	transportWS   = "ws"
	transportGRPC = "grpc"

	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client получатель сообщений. send безопасен для конкурентного вызова.
type client interface {
	send(Message) error
	close()
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) close() { _ = c.conn.Close() }

type grpcClient struct {
	mu     sync.Mutex
	stream Control_StreamServer
}

func (c *grpcClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&msg)
}

// Поток закрывается возвратом из Stream
func (c *grpcClient) close() {}

type Server struct {
	Voice   *service.VoiceService
	Metrics *observe.Metrics

	// ModelPath модель для initialize без явного пути
	ModelPath string

	mu      sync.Mutex
	clients map[client]string // -> транспорт
}

// NewServer подписывается на события сервиса и рассылает их всем клиентам
func NewServer(voice *service.VoiceService, metrics *observe.Metrics, modelPath string) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		Voice:     voice,
		Metrics:   metrics,
		ModelPath: modelPath,
		clients:   make(map[client]string),
	}

	voice.OnEvent = func(ev session.ListeningEvent) {
		s.broadcast(Message{Type: TypeListeningEvent, Event: &ev})
	}
	voice.OnCommand = func(cmd session.VoiceCommand) {
		s.broadcast(Message{Type: TypeVoiceCommand, Command: &cmd})
	}
	return s
}

// Handler HTTP маршруты: /ws и /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe обслуживает HTTP до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	log.Info().Str("addr", addr).Msg("backend listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{
		"initialized": s.Voice.IsInitialized(),
		"listening":   s.Voice.IsBackgroundListening(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn}
	done := s.register(r.Context(), c, transportWS)
	defer done()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			log.Debug().Err(err).Msg("websocket closed")
			return
		}
		s.processMessage(r.Context(), c, transportWS, msg)
	}
}

// Stream реализует ControlServer: тот же протокол, что и WebSocket
func (s *Server) Stream(stream Control_StreamServer) error {
	ctx := stream.Context()
	c := &grpcClient{stream: stream}
	done := s.register(ctx, c, transportGRPC)
	defer done()

	for {
		msg, err := stream.Recv()
		if err != nil {
			log.Debug().Err(err).Msg("grpc stream closed")
			return nil
		}
		s.processMessage(ctx, c, transportGRPC, *msg)
	}
}

func (s *Server) register(ctx context.Context, c client, transport string) func() {
	s.mu.Lock()
	s.clients[c] = transport
	s.mu.Unlock()

	disconnected := s.Metrics.ClientConnected(ctx, transport)
	log.Info().Str("transport", transport).Msg("client connected")

	return func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.close()
		disconnected()
		log.Info().Str("transport", transport).Msg("client disconnected")
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	targets := make([]client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("broadcast failed")
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
	}
}

// isSlow операции, которые ждут аудио или модель
func isSlow(msgType string) bool {
	switch msgType {
	case TypeInitialize, TypeStopRecording, TypeRecordCommandWithVAD:
		return true
	}
	return false
}

// processMessage быстрые запросы отвечает сразу, медленные в горутине
func (s *Server) processMessage(ctx context.Context, c client, transport string, msg Message) {
	s.Metrics.RecordRequest(ctx, transport, msg.Type)

	reply := func() {
		if err := c.send(s.dispatch(ctx, msg)); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("failed to send reply")
		}
	}
	if isSlow(msg.Type) {
		go reply()
		return
	}
	reply()
}

func (s *Server) dispatch(ctx context.Context, msg Message) Message {
	res := Message{Type: resultType(msg.Type)}
	var err error

	switch msg.Type {
	case TypeInitialize:
		path := msg.ModelPath
		if path == "" {
			path = s.ModelPath
		}
		res.Data, err = s.Voice.Initialize(ctx, path)

	case TypeIsInitialized:
		res.Initialized = s.Voice.IsInitialized()

	case TypeStartRecording:
		res.Data, err = s.Voice.StartRecording()

	case TypeStopRecording:
		var cmd session.VoiceCommand
		if cmd, err = s.Voice.StopRecording(ctx); err == nil {
			res.Command = &cmd
		}

	case TypeRecordCommandWithVAD:
		var cmd session.VoiceCommand
		if cmd, err = s.Voice.RecordCommandWithVAD(ctx); err == nil {
			res.Command = &cmd
		}

	case TypeGetStatus:
		var status session.RecordingStatus
		if status, err = s.Voice.GetStatus(); err == nil {
			res.Status = &status
		}

	case TypeProcessCommand:
		if msg.Command == nil {
			err = errors.New("command is required")
			break
		}
		res.Intent, res.Matched, err = s.Voice.ProcessCommand(*msg.Command)

	case TypeStartBackgroundListening:
		res.Data, err = s.Voice.StartBackgroundListening()

	case TypeStopBackgroundListening:
		res.Data, err = s.Voice.StopBackgroundListening()

	case TypeIsBackgroundListening:
		res.Listening = s.Voice.IsBackgroundListening()

	case TypeListAudioDevices:
		res.Devices, err = s.Voice.ListAudioDevices()

	case TypeSetAudioDevice:
		err = s.Voice.SetAudioDevice(msg.Device)

	case TypeLogCommand:
		if msg.Command == nil {
			err = errors.New("command is required")
			break
		}
		res.Data = s.Voice.LogCommand(*msg.Command)

	case TypeGetLastLog:
		res.Data = s.Voice.LastLogLine()

	default:
		err = errors.New("unknown message type: " + msg.Type)
	}

	if err != nil {
		log.Debug().Err(err).Str("type", msg.Type).Msg("request failed")
		return Message{Type: TypeError, Data: msg.Type, Error: err.Error()}
	}
	return res
}

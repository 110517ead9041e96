package api

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"kiku/ai"
	"kiku/audio"
	"kiku/internal/observe"
	"kiku/internal/service"
	"kiku/session"
)

type nopStream struct{}

func (nopStream) SampleRate() int { return 48000 }
func (nopStream) Close() error    { return nil }

type stubProvider struct{}

func (stubProvider) ListInputDevices() ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{{ID: "0", Name: "Built-in Mic", IsDefault: true}}, nil
}

func (stubProvider) Open(string, uint32, func([]float32)) (audio.Stream, error) {
	return nopStream{}, nil
}

type stubModel struct{}

func (stubModel) Transcribe([]float32, ai.Options) (string, error) { return "hello", nil }
func (stubModel) Close() error                                     { return nil }

// jsonClient лёгкий gRPC клиент потока управления с JSON кодеком
type jsonClient struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

func newJSONClient(t *testing.T, socket string) *jsonClient {
	t.Helper()

	conn, err := grpc.NewClient(
		"unix://"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		t.Fatalf("dial grpc: %v", err)
	}

	stream, err := conn.NewStream(context.Background(), &_Control_serviceDesc.Streams[0], "/"+ServiceName+"/Stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	c := &jsonClient{conn: conn, stream: stream}
	t.Cleanup(c.close)
	return c
}

func (c *jsonClient) send(t *testing.T, msg Message) {
	t.Helper()
	if err := c.stream.SendMsg(&msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func (c *jsonClient) recv(timeout time.Duration) (Message, error) {
	var msg Message
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	recvDone := make(chan error, 1)
	go func() { recvDone <- c.stream.RecvMsg(&msg) }()
	select {
	case err := <-recvDone:
		return msg, err
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// expect читает сообщения, пропуская чужие, пока не придёт нужный тип
func (c *jsonClient) expect(t *testing.T, msgType string) Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := c.recv(time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("timeout waiting for %s", msgType)
	return Message{}
}

func (c *jsonClient) close() {
	_ = c.stream.CloseSend()
	_ = c.conn.Close()
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.en.bin")
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, modelPath string) *Server {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	recorder := audio.NewRecorder(stubProvider{}, audio.WithGraceDelay(0))
	factory := func(path string) ai.Transcriber {
		return ai.NewHandle(path, func(string) (ai.Model, error) { return stubModel{}, nil })
	}
	voice := service.NewVoiceService(recorder, factory, session.DefaultConfig(), metrics)
	t.Cleanup(voice.Close)

	return NewServer(voice, metrics, modelPath)
}

// startGRPC запускает сервер на unix сокете во временном каталоге
func startGRPC(t *testing.T, s *Server) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "kiku")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "grpc.sock")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ServeGRPC(ctx, "unix://"+socket) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			_ = conn.Close()
			return socket
		}
		if time.Now().After(deadline) {
			t.Fatalf("socket not ready: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestControlStream_BeforeInitialize(t *testing.T) {
	s := newTestServer(t, "")
	client := newJSONClient(t, startGRPC(t, s))

	client.send(t, Message{Type: TypeIsInitialized})
	msg := client.expect(t, resultType(TypeIsInitialized))
	if msg.Initialized {
		t.Fatal("expected uninitialized")
	}

	client.send(t, Message{Type: TypeGetStatus})
	msg = client.expect(t, TypeError)
	if msg.Data != TypeGetStatus || msg.Error != "Voice system not initialized" {
		t.Fatalf("unexpected error reply %+v", msg)
	}

	client.send(t, Message{Type: TypeListAudioDevices})
	msg = client.expect(t, resultType(TypeListAudioDevices))
	if len(msg.Devices) != 1 || msg.Devices[0].Name != "Built-in Mic" {
		t.Fatalf("unexpected devices %+v", msg.Devices)
	}

	client.send(t, Message{Type: "reboot"})
	msg = client.expect(t, TypeError)
	if !strings.Contains(msg.Error, "unknown message type") {
		t.Fatalf("unexpected error %q", msg.Error)
	}
}

func TestControlStream_InitializeAndListen(t *testing.T) {
	s := newTestServer(t, writeModel(t))
	client := newJSONClient(t, startGRPC(t, s))

	client.send(t, Message{Type: TypeInitialize, ModelPath: filepath.Join(t.TempDir(), "absent.bin")})
	msg := client.expect(t, TypeError)
	if !strings.HasPrefix(msg.Error, "Model file not found at: ") {
		t.Fatalf("unexpected error %q", msg.Error)
	}

	client.send(t, Message{Type: TypeInitialize})
	msg = client.expect(t, resultType(TypeInitialize))
	if msg.Data != "Voice system initialized successfully" {
		t.Fatalf("unexpected reply %+v", msg)
	}

	client.send(t, Message{Type: TypeStartBackgroundListening})
	msg = client.expect(t, TypeListeningEvent)
	if msg.Event == nil || msg.Event.EventType != session.EventListeningStarted {
		t.Fatalf("unexpected event %+v", msg.Event)
	}
	client.expect(t, resultType(TypeStartBackgroundListening))

	client.send(t, Message{Type: TypeIsBackgroundListening})
	if msg := client.expect(t, resultType(TypeIsBackgroundListening)); !msg.Listening {
		t.Fatal("expected listening")
	}

	client.send(t, Message{Type: TypeStopBackgroundListening})
	msg = client.expect(t, resultType(TypeStopBackgroundListening))
	if msg.Data != "Background listening stopped" {
		t.Fatalf("unexpected reply %+v", msg)
	}

	cmd := session.NewVoiceCommand("what is the status")
	client.send(t, Message{Type: TypeProcessCommand, Command: &cmd})
	msg = client.expect(t, resultType(TypeProcessCommand))
	if !msg.Matched || msg.Intent != string(session.IntentStatusCheck) {
		t.Fatalf("unexpected intent reply %+v", msg)
	}
}

func TestWebSocket_LogCommand(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var mu sync.Mutex
	roundTrip := func(req Message) Message {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var res Message
		if err := conn.ReadJSON(&res); err != nil {
			t.Fatalf("read: %v", err)
		}
		return res
	}

	if res := roundTrip(Message{Type: TypeGetLastLog}); res.Data != "" {
		t.Fatalf("expected empty log, got %q", res.Data)
	}

	cmd := session.NewVoiceCommand("begin deploy")
	res := roundTrip(Message{Type: TypeLogCommand, Command: &cmd})
	if !strings.HasSuffix(res.Data, "begin deploy (confidence: 1)") {
		t.Fatalf("unexpected log line %q", res.Data)
	}
	if last := roundTrip(Message{Type: TypeGetLastLog}); last.Data != res.Data {
		t.Fatalf("last log %q, want %q", last.Data, res.Data)
	}

	if res := roundTrip(Message{Type: TypeLogCommand}); res.Type != TypeError {
		t.Fatalf("missing command must fail, got %+v", res)
	}
}

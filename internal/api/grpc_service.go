package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// ServiceName имя gRPC сервиса управления
const ServiceName = "kiku.Control"

// jsonCodec гоняет Message как JSON поверх gRPC, без генерации protobuf
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ControlServer двунаправленный поток, аналог WebSocket канала
type ControlServer interface {
	Stream(Control_StreamServer) error
}

type UnimplementedControlServer struct{}

func (UnimplementedControlServer) Stream(Control_StreamServer) error {
	return status.Errorf(codes.Unimplemented, "method Stream not implemented")
}

type Control_StreamServer interface {
	Send(*Message) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type controlStreamServer struct {
	grpc.ServerStream
}

func (x *controlStreamServer) Send(m *Message) error {
	return x.ServerStream.SendMsg(m)
}

func (x *controlStreamServer) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Control_Stream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).Stream(&controlStreamServer{stream})
}

var _Control_serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _Control_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

func RegisterControlServer(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&_Control_serviceDesc, srv)
}

// ServeGRPC обслуживает поток управления до отмены ctx.
// addr: unix:///path, npipe:\\.\pipe\name или host:port.
func (s *Server) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := listenGRPC(addr)
	if err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.Creds(insecure.NewCredentials()),
		grpc.ForceServerCodec(jsonCodec{}),
	)
	RegisterControlServer(server, s)

	go func() {
		<-ctx.Done()
		server.Stop()
		if path, ok := socketPath(addr); ok {
			_ = removeIfExists(path)
		}
	}()

	log.Info().Str("addr", addr).Msg("gRPC listening")
	if err := server.Serve(lis); err != nil {
		return err
	}
	return nil
}

func listenGRPC(addr string) (net.Listener, error) {
	if path, ok := socketPath(addr); ok {
		if err := removeIfExists(path); err != nil {
			return nil, err
		}
		return net.Listen("unix", path)
	}
	if strings.HasPrefix(addr, "npipe:") {
		return listenPipe(strings.TrimPrefix(addr, "npipe:"))
	}
	return net.Listen("tcp", addr)
}

// socketPath разбирает unix:/path и unix:///path
func socketPath(addr string) (string, bool) {
	if !strings.HasPrefix(addr, "unix:") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(addr, "unix:"), "//"), true
}

func removeIfExists(path string) error {
	if path == "" {
		return errors.New("empty socket path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

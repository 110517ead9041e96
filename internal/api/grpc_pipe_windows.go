//go:build windows

package api

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listenPipe слушает \\.\pipe\name. Доступ только у текущего пользователя.
func listenPipe(name string) (net.Listener, error) {
	return winio.ListenPipe(name, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		MessageMode:        false,
	})
}

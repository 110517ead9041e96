//go:build !windows

package api

import (
	"fmt"
	"net"
)

// listenPipe именованные каналы есть только в Windows
func listenPipe(name string) (net.Listener, error) {
	return nil, fmt.Errorf("named pipe %s requested, but named pipes are Windows only", name)
}

// Kiku: локальный голосовой ассистент.
//
// Использование:
//
//	kiku [flags]            запустить сервер (WebSocket, gRPC, метрики)
//	kiku devices            список устройств ввода
//	kiku record             записать одну команду до тишины
//	kiku transcribe f.wav   распознать файл
package main

import (
	"fmt"
	"os"
)

// version подставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

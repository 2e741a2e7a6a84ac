//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/Microsoft/go-winio"
)

// PipeName is used when socket_path does not name a pipe itself.
const PipeName = `\\.\pipe\transfer-sync`

const errorFileNotFound = syscall.Errno(2)

// pipeName maps socket_path onto the pipe namespace.
func pipeName(path string) string {
	if strings.HasPrefix(path, `\\.\pipe\`) {
		return path
	}
	return PipeName
}

// listen creates the named pipe. Only the owning user may connect.
func listen(path string) (net.Listener, error) {
	name := pipeName(path)
	if pipeInUse(name) {
		return nil, fmt.Errorf("another server is already listening on %s", name)
	}

	cfg := &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		InputBufferSize:    4096,
		OutputBufferSize:   4096,
	}
	listener, err := winio.ListenPipe(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create named pipe: %w", err)
	}
	return listener, nil
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, pipeName(path))
}

// Pipes vanish with their listener.
func cleanup(string) {}

// pipeInUse reports false only when the pipe definitely does not exist.
// Busy and access-denied both mean another process owns it.
func pipeInUse(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	conn, err := winio.DialPipeContext(ctx, name)
	if conn != nil {
		conn.Close()
		return true
	}
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno != errorFileNotFound
	}
	return true
}

package mt5bridge

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// pipePrefix is the Windows named pipe namespace.
const pipePrefix = `\\.\pipe\`

// Dialer opens a connection to the bridge.
type Dialer func(ctx context.Context) (net.Conn, error)

// NewDialer returns a Dialer for addr, which is one of
//
//	tcp://host:port
//	pipe://name            (Windows named pipe \\.\pipe\name)
//	\\.\pipe\name
func NewDialer(addr string) (Dialer, error) {
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		target := strings.TrimPrefix(addr, "tcp://")
		if target == "" {
			return nil, fmt.Errorf("bridge address %q has no host", addr)
		}
		return func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", target)
		}, nil
	case strings.HasPrefix(addr, "pipe://"):
		name := strings.TrimPrefix(addr, "pipe://")
		if name == "" {
			return nil, fmt.Errorf("bridge address %q has no pipe name", addr)
		}
		return pipeDialer(pipePrefix + name), nil
	case strings.HasPrefix(addr, pipePrefix):
		return pipeDialer(addr), nil
	default:
		return nil, fmt.Errorf("unsupported bridge address %q (want tcp://host:port or pipe://name)", addr)
	}
}

func pipeDialer(path string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		return dialPipe(ctx, path)
	}
}

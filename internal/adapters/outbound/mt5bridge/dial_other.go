//go:build !windows

package mt5bridge

import (
	"context"
	"errors"
	"net"
)

var errPipeUnsupported = errors.New("named pipes are only available on windows; use tcp://")

func dialPipe(context.Context, string) (net.Conn, error) {
	return nil, errPipeUnsupported
}

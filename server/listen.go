package server

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Listen binds a TCP listener on addr with address reuse enabled where the platform allows.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

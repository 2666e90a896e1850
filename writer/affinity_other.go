//go:build !linux

package writer

import (
	"net"

	"github.com/Numi2/solana-numistack/errors"
)

// pinToCPU is Linux-only; elsewhere pinning is reported as unsupported and
// the worker runs unpinned.
func pinToCPU(int) error {
	return errors.ErrInvalidConfig
}

func setSendBuffer(*net.UnixConn, int) error {
	return nil
}

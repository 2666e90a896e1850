//go:build linux

package writer

import (
	"net"

	"golang.org/x/sys/unix"
)

// pinToCPU binds the calling thread to a single CPU. Callers must hold
// runtime.LockOSThread for the pin to stay meaningful.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// setSendBuffer requests a kernel send buffer large enough for one full
// batch, so vectored writes rarely block on socket space.
func setSendBuffer(conn *net.UnixConn, bytes int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
	})
	if err != nil {
		return err
	}
	return serr
}

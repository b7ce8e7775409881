package ipc

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials fetches SO_PEERCRED for diagnostics.
func peerCredentials(uc *net.UnixConn) (pid, uid, gid int, ok bool) {
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, 0, false
	}
	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || credErr != nil || cred == nil {
		return 0, 0, 0, false
	}
	return int(cred.Pid), int(cred.Uid), int(cred.Gid), true
}

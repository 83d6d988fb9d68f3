package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

func setTCPAuthKey(fd int, sa unix.Sockaddr, key []byte) error {
	opt, err := buildTCPMD5Sig(sa, key)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_MD5SIG, string(opt)); err != nil {
		return os.NewSyscallError("setsockopt TCP_MD5SIG", err)
	}
	return nil
}

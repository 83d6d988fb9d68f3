//go:build !linux

package transport

import "golang.org/x/sys/unix"

func setTCPAuthKey(fd int, sa unix.Sockaddr, key []byte) error {
	if _, err := buildTCPMD5Sig(sa, key); err != nil {
		return err
	}
	return ErrTCPAuthUnsupported
}

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/jrpc/internal/auth"
	"golang.org/x/sys/unix"
)

var ErrTCPAuthUnsupported = errors.New("transport: tcp auth key not supported on this platform")

// Layout of Linux struct tcp_md5sig: a sockaddr_storage holding the peer
// address with a zero port, flags, prefix length, key length, ifindex and a
// fixed-size key buffer.
const (
	sockaddrStorageLen = 128
	md5sigKeyLenOff    = sockaddrStorageLen + 2
	md5sigKeyOff       = sockaddrStorageLen + 8
	md5sigLen          = md5sigKeyOff + auth.MaxKeyLen
)

// buildTCPMD5Sig encodes the TCP_MD5SIG option value for peer sa.
func buildTCPMD5Sig(sa unix.Sockaddr, key []byte) ([]byte, error) {
	if err := auth.ValidateKey(key); err != nil {
		return nil, err
	}
	buf := make([]byte, md5sigLen)
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		binary.NativeEndian.PutUint16(buf[0:2], unix.AF_INET)
		copy(buf[4:8], a.Addr[:])
	case *unix.SockaddrInet6:
		binary.NativeEndian.PutUint16(buf[0:2], unix.AF_INET6)
		copy(buf[8:24], a.Addr[:])
	default:
		return nil, fmt.Errorf("transport: tcp auth key: unsupported address %T", sa)
	}
	binary.NativeEndian.PutUint16(buf[md5sigKeyLenOff:md5sigKeyLenOff+2], uint16(len(key)))
	copy(buf[md5sigKeyOff:], key)
	return buf, nil
}

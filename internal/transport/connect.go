package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/danmuck/jrpc/internal/rpcerr"
	"golang.org/x/sys/unix"
)

// Connect opens the socket, retrying refused, unreachable and timed-out
// attempts up to ConnectRetryCount times. An already connected socket is left
// as is. Failures are KindConnection errors wrapping the last cause.
func (s *Socket) Connect() error {
	if s.fd >= 0 && s.state == StateConnected {
		return nil
	}

	attempts := s.cfg.ConnectRetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.connectOnce()
		if err == nil {
			s.logger.Debug().Int("attempt", attempt).Msg("connected")
			return nil
		}
		lastErr = err
		if !retryableConnect(err) {
			return &rpcerr.Error{
				Kind:    rpcerr.KindConnection,
				Op:      rpcerr.OpConnect,
				Message: fmt.Sprintf("connect to %s", s.cfg.Endpoint),
				Err:     err,
			}
		}
		if attempt < attempts {
			delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
			s.logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", attempts).
				Dur("retry_in", delay).
				Err(err).
				Msg("connect failed")
			if delay > 0 {
				time.Sleep(delay)
			}
		}
	}
	return &rpcerr.Error{
		Kind:    rpcerr.KindConnection,
		Op:      rpcerr.OpConnect,
		Message: fmt.Sprintf("connect to %s failed after %d attempts", s.cfg.Endpoint, attempts),
		Err:     lastErr,
	}
}

func (s *Socket) connectOnce() error {
	s.Close()

	sa, family, err := resolve(s.cfg.Endpoint)
	if err != nil {
		return err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return os.NewSyscallError("setnonblock", err)
	}
	s.fd = fd
	s.state = StateConnecting

	if len(s.cfg.TCPAuthKey) > 0 {
		if err := setTCPAuthKey(fd, sa, s.cfg.TCPAuthKey); err != nil {
			s.Close()
			return err
		}
	}

	err = unix.Connect(fd, sa)
	switch {
	case err == nil, errors.Is(err, unix.EISCONN):
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EALREADY), errors.Is(err, unix.EINTR):
		ready, werr := s.wait(unix.POLLOUT, time.Now().Add(s.cfg.ConnectTimeout))
		if werr != nil {
			s.Close()
			return werr
		}
		if !ready {
			s.Close()
			timeoutErr := rpcerr.Timeout(rpcerr.OpConnect)
			timeoutErr.Message = fmt.Sprintf("can't connect during %s", s.cfg.ConnectTimeout)
			return timeoutErr
		}
		soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			s.Close()
			return os.NewSyscallError("getsockopt", gerr)
		}
		if soErr != 0 && !errors.Is(unix.Errno(soErr), unix.EISCONN) {
			s.Close()
			return os.NewSyscallError("connect", unix.Errno(soErr))
		}
	default:
		s.Close()
		return os.NewSyscallError("connect", err)
	}

	s.state = StateConnected
	return nil
}

func resolve(endpoint string) (unix.Sockaddr, int, error) {
	addr, err := net.ResolveTCPAddr("tcp", endpoint)
	if err != nil {
		return nil, 0, err
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, 0, fmt.Errorf("%w: %q resolved to no address", ErrInvalidEndpoint, endpoint)
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, unix.AF_INET6, nil
}

func retryableConnect(err error) bool {
	if errors.Is(err, rpcerr.ErrConnectTimeout) {
		return true
	}
	for _, errno := range []unix.Errno{
		unix.ECONNREFUSED,
		unix.EHOSTUNREACH,
		unix.ENETUNREACH,
		unix.ETIMEDOUT,
		unix.EPIPE,
		unix.ECONNRESET,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

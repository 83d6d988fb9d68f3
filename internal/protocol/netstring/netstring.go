// Package netstring frames payloads as "<decimal length>:<payload>,".
package netstring

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/jrpc/internal/rpcerr"
)

var (
	ErrInvalidLengthChar = errors.New("netstring: invalid character in length prefix")
	ErrEmptyLength       = errors.New("netstring: empty length prefix")
	ErrLengthTooLong     = errors.New("netstring: length prefix too long")
	ErrMissingComma      = errors.New("netstring: missing trailing comma")
	ErrPayloadTooLarge   = errors.New("netstring: payload too large")
)

// Reader returns exactly length bytes or fails within timeout.
type Reader interface {
	Read(length int, timeout time.Duration) ([]byte, error)
}

// Writer sends all of data or fails within timeout.
type Writer interface {
	Write(data []byte, timeout time.Duration) (int, error)
}

// Limits constrains decode memory use.
type Limits struct {
	MaxLengthDigits int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLengthDigits: 10,
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxLengthDigits <= 0 {
		l.MaxLengthDigits = d.MaxLengthDigits
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = d.MaxPayloadBytes
	}
	return l
}

// Encode returns payload as one netstring. The length counts bytes.
func Encode(payload []byte) []byte {
	prefix := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(prefix)+len(payload)+2)
	out = append(out, prefix...)
	out = append(out, ':')
	out = append(out, payload...)
	return append(out, ',')
}

// WriteFrame encodes payload and writes it in full.
func WriteFrame(w Writer, payload []byte, timeout time.Duration) error {
	_, err := w.Write(Encode(payload), timeout)
	return err
}

// ReadFrame decodes one netstring from r. Every underlying Read gets its own
// timeout. Transport errors are returned unchanged; malformed input becomes a
// KindFraming error.
func ReadFrame(r Reader, timeout time.Duration, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()

	digits := make([]byte, 0, limits.MaxLengthDigits)
	for {
		b, err := r.Read(1, timeout)
		if err != nil {
			return nil, err
		}
		c := b[0]
		if c == ':' {
			break
		}
		if c < '0' || c > '9' {
			return nil, rpcerr.Framing(fmt.Errorf("%w: %q", ErrInvalidLengthChar, c))
		}
		if len(digits) == limits.MaxLengthDigits {
			return nil, rpcerr.Framing(ErrLengthTooLong)
		}
		digits = append(digits, c)
	}
	if len(digits) == 0 {
		return nil, rpcerr.Framing(ErrEmptyLength)
	}

	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, rpcerr.Framing(fmt.Errorf("%w: %v", ErrInvalidLengthChar, err))
	}
	if length > limits.MaxPayloadBytes {
		return nil, rpcerr.Framing(fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, length, limits.MaxPayloadBytes))
	}

	body, err := r.Read(length+1, timeout)
	if err != nil {
		return nil, err
	}
	if body[length] != ',' {
		return nil, rpcerr.Framing(fmt.Errorf("%w: got %q", ErrMissingComma, body[length]))
	}
	return body[:length], nil
}

// Package auth provides helpers for the TCP MD5 signature pre-shared key.
//
// It only shapes and validates key material; installing the key on a socket
// is the transport's job.
package auth

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxKeyLen is the kernel limit for a TCP MD5 signature key (TCP_MD5SIG_MAXKEYLEN).
const MaxKeyLen = 80

var (
	ErrEmptyKey    = errors.New("auth: tcp auth key is empty")
	ErrKeyTooLong  = errors.New("auth: tcp auth key too long")
	ErrKeyEncoding = errors.New("auth: invalid tcp auth key encoding")
)

// ValidateKey checks a raw key against the kernel size limit.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrKeyTooLong, len(key), MaxKeyLen)
	}
	return nil
}

// ParseKey decodes a configured key. "hex:" and "base64:" prefixes select an
// encoding; anything else is taken as the literal key bytes.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	var (
		key []byte
		err error
	)
	switch {
	case strings.HasPrefix(raw, "hex:"):
		key, err = hex.DecodeString(strings.TrimPrefix(raw, "hex:"))
	case strings.HasPrefix(raw, "base64:"):
		key, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "base64:"))
	default:
		key = []byte(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyEncoding, err)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Redact renders a key for logs without exposing it.
func Redact(key []byte) string {
	if len(key) == 0 {
		return "<none>"
	}
	return fmt.Sprintf("<%d bytes>", len(key))
}

package jsonrpc

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultIDLength = 32
	idAlphabet      = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// IDGenerator produces correlation ids. Ids only need to be unique while a
// request is in flight.
type IDGenerator interface {
	NextID() string
}

type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NextID() string { return f() }

// RandomIDGenerator draws Length characters from [a-z0-9A-Z]. The zero value
// uses DefaultIDLength.
type RandomIDGenerator struct {
	Length int
}

func (g RandomIDGenerator) NextID() string {
	n := g.Length
	if n <= 0 {
		n = DefaultIDLength
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}

// UUIDGenerator returns random UUIDs as 32 lowercase hex characters.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

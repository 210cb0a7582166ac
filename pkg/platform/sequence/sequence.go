// Package sequence mints opaque 32-byte identifiers.
//
// Each id is keccak256(salt || instance || counter || unix-nanos). instance is
// a random UUID drawn when the generator is built, so a restarted process
// never repeats the ids of an earlier one even though its counter starts
// again at zero. Within one generator the counter keeps ids distinct when two
// calls observe the same clock reading. The salt separates deployments
// sharing a store. Replaying an identical request always yields a fresh id.
package sequence

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

type Generator struct {
	mu       sync.Mutex
	salt     []byte
	instance uuid.UUID
	counter  uint64
}

func New(salt string) *Generator {
	return NewWithInstance(salt, uuid.New())
}

// NewWithInstance fixes the instance id, for reproducible ids in tests.
func NewWithInstance(salt string, instance uuid.UUID) *Generator {
	return &Generator{salt: []byte(salt), instance: instance}
}

// Next returns a new id. now is the caller's notion of the current time,
// usually requestcontext.Now(ctx).
func (g *Generator) Next(now time.Time) common.Hash {
	g.mu.Lock()
	g.counter++
	counter := g.counter
	g.mu.Unlock()

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], counter)
	binary.BigEndian.PutUint64(buf[8:], uint64(now.UnixNano()))

	h := sha3.NewLegacyKeccak256()
	h.Write(g.salt)
	h.Write(g.instance[:])
	h.Write(buf[:])
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Issued reports how many ids the generator has produced.
func (g *Generator) Issued() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

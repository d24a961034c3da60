package broker

import (
	"strconv"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// idGenerator produces correlation ids of the form "<nonce>-<n>".
//
// The nonce is fixed for the life of the broker, so ids never repeat within
// a worker process and never collide with ids from an earlier process.
type idGenerator struct {
	nonce   string
	counter atomic.Uint64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{nonce: ulid.Make().String()}
}

func (g *idGenerator) next() string {
	return g.nonce + "-" + strconv.FormatUint(g.counter.Add(1), 10)
}

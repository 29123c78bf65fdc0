package txqueue

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// QueueGate is the per-address mutex/serialization primitive ensuring
// at-most-one processor per address (spec §4.5/§5). It maps an address to
// a FIFO of one-shot wake-ups: presence of a key means a processor is
// currently running for that address. Arrivals while a key is present
// enroll a wake-up and block; the running processor, on completion, wakes
// exactly one waiter (FIFO) or deletes the key if none remain.
//
// This mirrors the original's asyncio.Queue-of-futures design and the
// teacher's map-of-channels (EthBroadcaster.triggers), adapted to the
// "one active processor" invariant this spec requires rather than the
// teacher's "one pending trigger" design (see spec §9 design notes).
type QueueGate struct {
	mu      sync.Mutex
	waiters map[common.Address][]chan struct{}
}

// NewQueueGate returns an empty gate.
func NewQueueGate() *QueueGate {
	return &QueueGate{waiters: make(map[common.Address][]chan struct{})}
}

// Enter blocks until the caller may run _process(addr) exclusively. It
// returns a release function that MUST be called exactly once when the
// caller's pass over addr is complete.
func (g *QueueGate) Enter(addr common.Address) (release func()) {
	g.mu.Lock()
	_, running := g.waiters[addr]
	if !running {
		g.waiters[addr] = nil
		g.mu.Unlock()
		return func() { g.release(addr) }
	}

	wake := make(chan struct{})
	g.waiters[addr] = append(g.waiters[addr], wake)
	g.mu.Unlock()

	<-wake
	return func() { g.release(addr) }
}

func (g *QueueGate) release(addr common.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()

	queue := g.waiters[addr]
	if len(queue) == 0 {
		delete(g.waiters, addr)
		return
	}

	next := queue[0]
	g.waiters[addr] = queue[1:]
	close(next)
}

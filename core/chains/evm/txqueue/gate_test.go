package txqueue_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/ethtxqueue/core/chains/evm/txqueue"
)

func TestQueueGate_SerializesPerAddress(t *testing.T) {
	gate := txqueue.NewQueueGate()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := gate.Enter(addr)
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gate waiters to drain")
	}

	assert.EqualValues(t, 1, maxActive, "at most one goroutine should hold the gate for a given address at a time")
}

func TestQueueGate_IndependentAddressesDoNotBlockEachOther(t *testing.T) {
	gate := txqueue.NewQueueGate()
	addrA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	releaseA := gate.Enter(addrA)
	defer releaseA()

	entered := make(chan struct{})
	go func() {
		release := gate.Enter(addrB)
		defer release()
		close(entered)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("gate.Enter for an unrelated address blocked on an unrelated lock")
	}
}

func TestQueueGate_ReleaseWakesNextWaiterFIFO(t *testing.T) {
	gate := txqueue.NewQueueGate()
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	release := gate.Enter(addr)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := gate.Enter(addr)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			r()
		}(i)
		time.Sleep(10 * time.Millisecond) // let goroutines enroll in order
	}

	release()
	wg.Wait()

	require.Len(t, order, 3)
	assert.Equal(t, []int{0, 1, 2}, order, "waiters should be woken in FIFO arrival order")
}

package txqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/ethtxqueue/core/chains/evm/txqueue"
	"github.com/smartcontractkit/ethtxqueue/core/logger"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(ctx context.Context, address string, message txqueue.PaymentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, address)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestTaskRuntime_DispatchSendNotificationRunsAsynchronously(t *testing.T) {
	sender := &recordingSender{}
	runtime := txqueue.NewTaskRuntime(sender, logger.NewTest())
	defer runtime.Stop()

	runtime.DispatchSendNotification("0xabc", txqueue.PaymentMessage{Status: txqueue.StatusUnconfirmed})

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
}

// slowSender blocks inside Send until told to proceed, so Stop's wg.Wait
// can be observed actually blocking on in-flight work.
type slowSender struct {
	release chan struct{}
	done    chan struct{}
}

func (s *slowSender) Send(ctx context.Context, address string, message txqueue.PaymentMessage) error {
	<-s.release
	close(s.done)
	return nil
}

func TestTaskRuntime_StopWaitsForInFlightTasks(t *testing.T) {
	sender := &slowSender{release: make(chan struct{}), done: make(chan struct{})}
	runtime := txqueue.NewTaskRuntime(sender, logger.NewTest())

	runtime.DispatchSendNotification("0xabc", txqueue.PaymentMessage{})

	stopped := make(chan struct{})
	go func() {
		runtime.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight task finished")
	}
	<-sender.done
}

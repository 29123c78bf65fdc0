package txqueue

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/smartcontractkit/ethtxqueue/core/logger"
)

// maxConcurrentTasks bounds the number of dispatched tasks running at once,
// so a large re-trigger fan-out (e.g. a cycle of addresses paying each
// other) cannot spawn unbounded goroutines.
const maxConcurrentTasks = 64

// NotificationSender delivers a rendered payment message to a single
// address; the out-of-scope push-notification service implements this in
// production (spec §1).
type NotificationSender interface {
	Send(ctx context.Context, address string, message PaymentMessage) error
}

// TaskRuntime is the scheduling surface of spec §6/§8: fire-and-forget
// dispatch of process_transaction_queue and send_notification. It
// implements Dispatcher for the processor and notifier, and owns the
// background goroutines that actually run dispatched work. sanity_check is
// not dispatched through the runtime; the Reconciler schedules it on its
// own timer.
type TaskRuntime struct {
	ctx       context.Context
	cancel    context.CancelFunc
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	processor *QueueProcessor
	sender    NotificationSender
	logger    logger.Logger
}

// NewTaskRuntime constructs a runtime bound to processor for queue
// re-triggers and sender for notification delivery. processor is set via
// SetProcessor after construction to break the construction-order cycle
// between the runtime and the processor it drives, which takes the runtime
// as its Dispatcher (the teacher's delegate.go wires
// services together the same way, constructing leaf components first).
func NewTaskRuntime(sender NotificationSender, lggr logger.Logger) *TaskRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRuntime{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(maxConcurrentTasks),
		sender: sender,
		logger: lggr.Named("TaskRuntime"),
	}
}

// SetProcessor completes the wiring; must be called once before Dispatch*
// methods are used.
func (r *TaskRuntime) SetProcessor(p *QueueProcessor) {
	r.processor = p
}

// DispatchProcessQueue fires process_transaction_queue(address) on the
// task bus (fire-and-forget).
func (r *TaskRuntime) DispatchProcessQueue(addr common.Address) {
	r.run("process_transaction_queue", func(ctx context.Context) {
		r.processor.ProcessTransactionQueue(ctx, addr)
	})
}

// DispatchSendNotification fires send_notification(address, message).
func (r *TaskRuntime) DispatchSendNotification(address string, message PaymentMessage) {
	r.run("send_notification", func(ctx context.Context) {
		if err := r.sender.Send(ctx, address, message); err != nil {
			r.logger.Errorw("send_notification failed", "address", address, "error", err)
		}
	})
}

// run dispatches fn under a unique task id so a stuck or errored dispatch
// can be correlated across the scattered log lines a fire-and-forget task
// bus produces.
func (r *TaskRuntime) run(kind string, fn func(ctx context.Context)) {
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		// Runtime is shutting down; drop the task rather than block forever.
		return
	}
	taskID := uuid.New()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		r.logger.Debugw("dispatching task", "kind", kind, "taskID", taskID)
		fn(r.ctx)
	}()
}

// Stop cancels in-flight dispatch context and waits for running tasks to
// finish. Currently-running passes complete or fail against a closed
// database/node; no state corruption results because every row update is
// its own transaction (spec §5 Cancellation).
func (r *TaskRuntime) Stop() {
	r.cancel()
	r.wg.Wait()
}

var _ Dispatcher = (*TaskRuntime)(nil)

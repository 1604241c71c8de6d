package eventbus

import (
	"go.uber.org/zap"
	"runtime"
	"sync"
)

// invocation packages one subscription with the event it should receive.
type invocation struct {
	sub   *Subscription
	event any
}

// handler executes an invocation on the goroutine class it represents.
// Only the SameThread handler ever returns an error; the asynchronous modes
// report failures at their own boundary instead of to the poster.
type handler interface {
	handle(inv invocation) error
}

// Sink executes units of work on one designated goroutine, preserving
// submission order for work submitted from the same goroutine. An
// application embedding the bus in a UI loop supplies its main-loop executor
// through [WithAffinitySink]; tests can supply a synchronous stand-in.
type Sink interface {
	Submit(work func())
}

// SinkFunc is a function adapter for [Sink].
type SinkFunc func(work func())

func (f SinkFunc) Submit(work func()) {
	f(work)
}

// boundaryGuard is the recovery layer wrapped around every asynchronous
// callback. A failing or panicking callback is reported and counted, and
// never takes down its worker or affects other subscribers.
type boundaryGuard struct {
	log     *zap.Logger
	metrics *busMetrics
}

func (g *boundaryGuard) run(mode ThreadMode, inv invocation) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			g.metrics.recordPanic(mode)
			g.log.Error("callback panicked",
				zap.String("mode", mode.String()),
				zap.String("callback", inv.sub.descriptor.Name),
				zap.String("subscription", inv.sub.id.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", stack[:n]))
		}
	}()
	g.metrics.recordInvoked(mode)
	if err := inv.sub.invoke(inv.event); err != nil {
		g.metrics.recordError(mode)
		g.log.Error("callback failed",
			zap.String("mode", mode.String()),
			zap.String("callback", inv.sub.descriptor.Name),
			zap.String("subscription", inv.sub.id.String()),
			zap.Error(err))
	}
}

// sameThreadHandler runs the callback inline on the posting goroutine.
// Errors and panics propagate to the poster; this mode offers no isolation.
type sameThreadHandler struct {
	metrics *busMetrics
}

func (h *sameThreadHandler) handle(inv invocation) error {
	h.metrics.recordInvoked(SameThread)
	if err := inv.sub.invoke(inv.event); err != nil {
		h.metrics.recordError(SameThread)
		return err
	}
	return nil
}

// affinityHandler marshals invocations onto the affinity [Sink].
type affinityHandler struct {
	sink  Sink
	guard *boundaryGuard
}

func (h *affinityHandler) handle(inv invocation) error {
	h.sink.Submit(func() {
		h.guard.run(Affinity, inv)
	})
	return nil
}

// serialSink is the built-in affinity [Sink]: a single goroutine draining an
// unbounded FIFO, woken by a one-slot signal channel so submitters never block.
type serialSink struct {
	log *zap.Logger

	mux      sync.Mutex
	queue    []func()
	stopping bool

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopped  sync.WaitGroup
}

func newSerialSink(log *zap.Logger) *serialSink {
	s := &serialSink{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.stopped.Add(1)
	go s.run()
	return s
}

func (s *serialSink) Submit(work func()) {
	s.mux.Lock()
	if s.stopping {
		s.mux.Unlock()
		// Work enqueued before stop still runs; anything later is rejected
		// loudly rather than queued where nothing will ever drain it.
		s.log.Warn("affinity work rejected, sink is stopped")
		return
	}
	s.queue = append(s.queue, work)
	s.mux.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *serialSink) run() {
	defer s.stopped.Done()
	for {
		for _, work := range s.take() {
			work()
		}
		select {
		case <-s.wake:
		case <-s.done:
			// Work submitted before stop still runs.
			for _, work := range s.take() {
				work()
			}
			return
		}
	}
}

func (s *serialSink) take() []func() {
	s.mux.Lock()
	defer s.mux.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

func (s *serialSink) stop() {
	s.stopOnce.Do(func() {
		s.mux.Lock()
		s.stopping = true
		s.mux.Unlock()
		close(s.done)
	})
}

// asyncHandler submits invocations to a pool of worker goroutines behind a
// buffered channel. When the buffer is full, the invocation spills to a fresh
// goroutine instead of blocking the poster.
type asyncHandler struct {
	work    chan invocation
	guard   *boundaryGuard
	workers sync.WaitGroup

	// mux orders submissions against stop: the work channel is only closed
	// once no submitter can reach the send, so a Post racing Stop gets
	// ErrBusStopped instead of a send-on-closed-channel panic.
	mux      sync.RWMutex
	stopping bool
	stopOnce sync.Once
}

func newAsyncHandler(bufferSize, numWorkers int, guard *boundaryGuard) *asyncHandler {
	h := &asyncHandler{
		work:  make(chan invocation, bufferSize),
		guard: guard,
	}
	h.workers.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go h.worker()
	}
	return h
}

func (h *asyncHandler) worker() {
	defer h.workers.Done()
	for inv := range h.work {
		h.guard.run(Async, inv)
	}
}

func (h *asyncHandler) handle(inv invocation) error {
	h.mux.RLock()
	defer h.mux.RUnlock()
	if h.stopping {
		return ErrBusStopped
	}
	select {
	case h.work <- inv:
	default:
		h.guard.metrics.recordSpill()
		// Spills count as workers so AwaitStop waits for them too.
		h.workers.Add(1)
		go func() {
			defer h.workers.Done()
			h.guard.run(Async, inv)
		}()
	}
	return nil
}

func (h *asyncHandler) stop() {
	h.stopOnce.Do(func() {
		h.mux.Lock()
		h.stopping = true
		close(h.work)
		h.mux.Unlock()
	})
}

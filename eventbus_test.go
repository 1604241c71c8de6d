package eventbus

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testShutdownTimeout = time.Second
	testAsyncTimeout    = 2 * time.Second
)

type orderCreated struct {
	ID int
}

type orderShipped struct {
	ID int
}

// declSubscriber is a test subscriber with whatever declarations a case needs.
type declSubscriber struct {
	decls []Declaration
}

func (s *declSubscriber) EventDeclarations() []Declaration {
	return s.decls
}

func newTestBus(t *testing.T, opts ...BusOpt) *Bus {
	t.Helper()
	bus, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		bus.AwaitStop(testShutdownTimeout)
	})
	return bus
}

// await fails the test if the WaitGroup doesn't finish in time.
func await(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
	case <-time.After(testAsyncTimeout):
		t.Fatal("timed out waiting for async callbacks")
	}
}

func TestInitInstance(t *testing.T) {
	t.Cleanup(func() {
		initOnce = sync.Once{}
		instanceBus = nil
	})
	result := InitInstance(BufferSize(2), NumWorkers(4))
	assert.True(t, result, "Should have configured the global instance")
	assert.NotNil(t, Instance())
	result = InitInstance(BufferSize(1), NumWorkers(1))
	assert.False(t, result, "Instance was already configured, shouldn't have happened again")
}

func TestInitInstance_BadOption(t *testing.T) {
	t.Cleanup(func() {
		initOnce = sync.Once{}
		instanceBus = nil
	})
	result := InitInstance(BufferSize(0))
	assert.False(t, result, "Invalid options shouldn't count as configuring the instance")
	assert.NotNil(t, Instance(), "Should still fall back to a default instance")
}

func TestBus_SameThreadAndAsync(t *testing.T) {
	bus := newTestBus(t)

	var (
		sameThreadRan bool
		asyncDone     sync.WaitGroup
		asyncGot      *orderCreated
	)
	subA := &declSubscriber{decls: []Declaration{
		Handle[*orderCreated]("onCreated", SameThread, func(_ *orderCreated) error {
			sameThreadRan = true
			return nil
		}),
	}}
	subB := &declSubscriber{decls: []Declaration{
		Handle[*orderCreated]("onCreated", Async, func(evt *orderCreated) error {
			asyncGot = evt
			asyncDone.Done()
			return nil
		}),
	}}
	require.NoError(t, bus.Register(subA))
	require.NoError(t, bus.Register(subB))

	asyncDone.Add(1)
	posted := &orderCreated{ID: 7}
	require.NoError(t, bus.Post(posted))
	assert.True(t, sameThreadRan, "SameThread callback should have run before Post returned")

	await(t, &asyncDone)
	assert.Same(t, posted, asyncGot, "Async callback should receive the identical event instance")
}

func TestBus_DuplicateRegistration(t *testing.T) {
	bus := newTestBus(t)

	var calls int
	sub := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("onCreated", SameThread, func(orderCreated) error {
			calls++
			return nil
		}),
	}}
	require.NoError(t, bus.Register(sub))
	require.NoError(t, bus.Register(sub))

	assert.Len(t, bus.Subscriptions(Identity[orderCreated]()), 1)
	require.NoError(t, bus.Post(orderCreated{ID: 1}))
	assert.Equal(t, 1, calls, "Duplicate registration should result in exactly one invocation")
}

func TestBus_UnregisterStopsDelivery(t *testing.T) {
	bus := newTestBus(t)

	var calls int
	sub := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("onCreated", SameThread, func(orderCreated) error {
			calls++
			return nil
		}),
	}}
	require.NoError(t, bus.Register(sub))
	require.NoError(t, bus.Post(orderCreated{ID: 1}))

	bus.Unregister(sub)
	require.NoError(t, bus.Post(orderCreated{ID: 2}))
	assert.Equal(t, 1, calls, "No invocations should happen after Unregister")
	assert.Empty(t, bus.Subscriptions(Identity[orderCreated]()))
	assert.Empty(t, bus.Identities())
}

func TestBus_UnregisterNilAndUnknown(t *testing.T) {
	bus := newTestBus(t)
	bus.Unregister(nil)
	bus.Unregister(&declSubscriber{})
	require.NoError(t, bus.Register(nil), "A nil subscriber should be a registration no-op")
	assert.Empty(t, bus.Identities())
}

func TestBus_AsyncErrorIsolation(t *testing.T) {
	bus := newTestBus(t)

	var (
		done      sync.WaitGroup
		secondRan bool
	)
	failing := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("failing", Async, func(orderCreated) error {
			defer done.Done()
			return errors.New("callback exploded")
		}),
	}}
	healthy := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("healthy", Async, func(orderCreated) error {
			defer done.Done()
			secondRan = true
			return nil
		}),
	}}
	require.NoError(t, bus.Register(failing))
	require.NoError(t, bus.Register(healthy))

	done.Add(2)
	assert.NoError(t, bus.Post(orderCreated{ID: 1}), "Async errors should never reach the poster")
	await(t, &done)
	assert.True(t, secondRan, "An async error shouldn't prevent other subscribers from being invoked")
}

func TestBus_UnregisterMidFlight(t *testing.T) {
	bus := newTestBus(t)

	sub := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("onCreated", Async, func(orderCreated) error {
			return nil
		}),
	}}
	require.NoError(t, bus.Register(sub))

	var posting sync.WaitGroup
	posting.Add(1)
	go func() {
		defer posting.Done()
		for i := 0; i < 500; i++ {
			_ = bus.Post(orderCreated{ID: i})
		}
	}()
	bus.Unregister(sub)
	posting.Wait()

	assert.Empty(t, bus.Subscriptions(Identity[orderCreated]()))
}

func TestBus_StoppedErrors(t *testing.T) {
	bus, err := New()
	require.NoError(t, err)
	bus.AwaitStop(testShutdownTimeout)

	assert.ErrorIs(t, bus.Post(orderCreated{ID: 1}), ErrBusStopped)
	assert.ErrorIs(t, bus.Register(&declSubscriber{}), ErrBusStopped)
	bus.Unregister(&declSubscriber{})
	bus.Stop()
}

func TestBus_PostOverlappingStop(t *testing.T) {
	bus := newTestBus(t)

	// Stop mid-dispatch so the async handler sees a stopped bus while the
	// posting goroutine is still routing subscriptions for the same event.
	stopper := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("stopper", SameThread, func(orderCreated) error {
			bus.Stop()
			return nil
		}),
	}}
	async := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("late", Async, func(orderCreated) error {
			return nil
		}),
	}}
	require.NoError(t, bus.Register(stopper))
	require.NoError(t, bus.Register(async))

	var err error
	assert.NotPanics(t, func() {
		err = bus.Post(orderCreated{ID: 1})
	}, "Posting while the bus stops should degrade to an error")
	assert.ErrorIs(t, err, ErrBusStopped)
}

// sliceSubscriber has a non-comparable dynamic type, so it can never be
// deduplicated or unregistered.
type sliceSubscriber []Declaration

func (s sliceSubscriber) EventDeclarations() []Declaration {
	return s
}

func TestBus_NonComparableSubscriberSkipped(t *testing.T) {
	bus := newTestBus(t)

	sub := sliceSubscriber{
		Handle[orderCreated]("onCreated", SameThread, func(orderCreated) error { return nil }),
	}
	require.NoError(t, bus.Register(sub), "A non-comparable subscriber is a diagnostic, not a failure")
	assert.Empty(t, bus.Identities(), "Nothing should be registered for a subscriber that can't be matched later")
}

func TestBus_AwaitStopWaitsForSpills(t *testing.T) {
	bus, err := New(BufferSize(1), NumWorkers(1))
	require.NoError(t, err)

	var calls atomic.Int32
	sub := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("slow", Async, func(orderCreated) error {
			time.Sleep(20 * time.Millisecond)
			calls.Add(1)
			return nil
		}),
	}}
	require.NoError(t, bus.Register(sub))

	const count = 12
	for i := 0; i < count; i++ {
		// Most of these overflow the one-slot worker queue and spill.
		require.NoError(t, bus.Post(orderCreated{ID: i}))
	}
	bus.AwaitStop(testShutdownTimeout)
	assert.Equal(t, int32(count), calls.Load(), "AwaitStop should wait for spilled work, not just queued work")
}

func TestBus_SkipsInvalidDeclarations(t *testing.T) {
	bus := newTestBus(t)

	var calls int
	sub := &declSubscriber{decls: []Declaration{
		Handle[orderCreated]("", SameThread, func(orderCreated) error { return nil }),
		Handle[orderCreated]("noCallback", SameThread, nil),
		Handle[error]("interfacePayload", SameThread, func(error) error { return nil }),
		HandleTag[orderCreated]("badMode", DefaultTag, ThreadMode(42), func(orderCreated) error { return nil }),
		Handle[orderCreated]("valid", SameThread, func(orderCreated) error {
			calls++
			return nil
		}),
	}}
	require.NoError(t, bus.Register(sub), "Configuration errors are diagnostics, not registration failures")

	assert.Len(t, bus.Subscriptions(Identity[orderCreated]()), 1)
	require.NoError(t, bus.Post(orderCreated{ID: 1}))
	assert.Equal(t, 1, calls)
}

func TestBus_ScannerFailure(t *testing.T) {
	scanErr := errors.New("scan failed")
	bus := newTestBus(t, WithScanner(ScannerFunc(func(any) ([]Declaration, error) {
		return nil, scanErr
	})))
	assert.ErrorIs(t, bus.Register(&declSubscriber{}), scanErr)
}

func TestBus_Name(t *testing.T) {
	bus := newTestBus(t, WithName("orders"))
	assert.Equal(t, "orders", bus.Name())
}

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"github.com/saylorsolutions/x/structures/set"
	"go.uber.org/zap"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNilEvent   = errors.New("cannot post a nil event")
	ErrBusStopped = errors.New("event bus is stopped")
)

var (
	instanceBus *Bus
	initOnce    sync.Once
)

// Instance returns the shared default [Bus], creating it with default
// settings on first use. Use [InitInstance] first to configure it. Tests
// should prefer explicit instances from [New] to avoid cross-test state.
func Instance() *Bus {
	InitInstance()
	return instanceBus
}

// InitInstance creates the shared default [Bus] with the given options, and
// reports whether this call was the one that configured it. Later calls do
// nothing and return false. If an option fails, the instance is created with
// default settings and false is returned.
func InitInstance(opts ...BusOpt) bool {
	var configured bool
	initOnce.Do(func() {
		bus, err := New(opts...)
		if err != nil {
			bus, _ = New()
		}
		instanceBus = bus
		configured = err == nil
	})
	return configured
}

// Bus composes the [Registry] and dispatch engine behind the posting API.
// All methods are safe for concurrent use.
type Bus struct {
	name     string
	log      *zap.Logger
	scanner  Scanner
	registry *Registry
	dispatch *dispatcher
	metrics  *busMetrics

	// ownedSink is the built-in affinity sink, nil when one was injected.
	ownedSink *serialSink
	async     *asyncHandler
	stopped   atomic.Bool
	stopOnce  sync.Once
}

// New creates an independent [Bus]. Its async worker pool and, unless
// [WithAffinitySink] is given, its affinity goroutine start immediately;
// call [Bus.Stop] or [Bus.AwaitStop] to release them.
func New(opts ...BusOpt) (*Bus, error) {
	conf := defaultConf()
	for _, opt := range opts {
		if err := opt(&conf); err != nil {
			return nil, err
		}
	}

	var metrics *busMetrics
	if conf.registerer != nil {
		metrics = newBusMetrics(conf.registerer, conf.name)
	}
	logger := conf.logger.Named(conf.name)
	guard := &boundaryGuard{log: logger, metrics: metrics}

	bus := &Bus{
		name:     conf.name,
		log:      logger,
		scanner:  conf.scanner,
		registry: NewRegistry(),
		metrics:  metrics,
		async:    newAsyncHandler(conf.bufferSize, conf.numWorkers, guard),
	}
	sink := conf.sink
	if sink == nil {
		bus.ownedSink = newSerialSink(logger)
		sink = bus.ownedSink
	}
	bus.dispatch = &dispatcher{
		registry: bus.registry,
		same:     &sameThreadHandler{metrics: metrics},
		affinity: &affinityHandler{sink: sink, guard: guard},
		async:    bus.async,
	}
	return bus, nil
}

// Name returns the bus name used in log fields and metric labels.
func (b *Bus) Name() string {
	return b.name
}

// Register scans subscriber for declarations and registers each of them.
// A nil subscriber is a no-op. Declarations with configuration problems are
// skipped with a diagnostic rather than failing the whole call, and
// re-registering an already-registered callback is silently ignored.
func (b *Bus) Register(subscriber any) error {
	if subscriber == nil {
		return nil
	}
	if b.stopped.Load() {
		return ErrBusStopped
	}
	if !comparableSubscriber(subscriber) {
		// A subscriber that can't be compared by identity could never be
		// deduplicated or unregistered, so the bus would retain it forever.
		b.log.Warn("skipping subscriber with non-comparable type",
			zap.String("subscriber", fmt.Sprintf("%T", subscriber)))
		return nil
	}
	decls, err := b.scanner.Scan(subscriber)
	if err != nil {
		return fmt.Errorf("scanning subscriber %T: %w", subscriber, err)
	}
	for _, decl := range decls {
		if err := decl.validate(); err != nil {
			b.log.Warn("skipping callback declaration",
				zap.String("subscriber", fmt.Sprintf("%T", subscriber)),
				zap.String("callback", decl.Name),
				zap.Error(err))
			continue
		}
		b.registry.Register(decl.identity(), newSubscription(subscriber, decl))
	}
	return nil
}

// Unregister removes every subscription owned by subscriber.
// Safe to call with a nil or never-registered subscriber.
func (b *Bus) Unregister(subscriber any) {
	if subscriber == nil {
		return
	}
	if removed := b.registry.Unregister(subscriber); removed > 0 {
		b.log.Debug("unregistered subscriber",
			zap.String("subscriber", fmt.Sprintf("%T", subscriber)),
			zap.Int("subscriptions", removed))
	}
}

// Post publishes event on the default channel. See [Bus.PostTag].
func (b *Bus) Post(event any) error {
	return b.PostTag(event, DefaultTag)
}

// PostTag publishes event to every subscription registered for the event's
// type and the given tag, in registration order. SameThread callbacks run
// before PostTag returns, and an error from one of them aborts dispatch and
// is returned here; events still pending at that point stay queued and are
// drained by the goroutine's next post. Affinity and Async work is
// submitted, not awaited.
// Posting an event nobody subscribes to is a no-op, not an error.
func (b *Bus) PostTag(event any, tag string) error {
	if event == nil {
		return ErrNilEvent
	}
	if b.stopped.Load() {
		return ErrBusStopped
	}
	b.metrics.recordPosted()
	return b.dispatch.post(event, tag)
}

// Subscriptions returns the ordered subscriptions for id as a read-only
// point-in-time snapshot.
func (b *Bus) Subscriptions(id EventIdentity) []*Subscription {
	return b.registry.Lookup(id)
}

// Identities returns the set of identities that currently have subscriptions.
func (b *Bus) Identities() set.Set[EventIdentity] {
	return b.registry.Identities()
}

// Pending snapshots the calling goroutine's queue of undispatched identities.
// Outside of a SameThread callback this is normally empty, since every post
// drains its goroutine's queue before returning; the exception is a post
// aborted by a SameThread callback error, which leaves the remainder queued
// here until the goroutine posts again.
func (b *Bus) Pending() []EventIdentity {
	return b.dispatch.pendingIdentities()
}

// Stop shuts down the worker pool and the built-in affinity goroutine, and
// clears the registry so no subscriber references are retained. Posting and
// registering after Stop return [ErrBusStopped]. Stop returns without
// waiting for in-flight async work; use [Bus.AwaitStop] for that.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)
		b.async.stop()
		if b.ownedSink != nil {
			b.ownedSink.stop()
		}
		b.registry.clear()
	})
}

// AwaitStop stops the bus and waits for its workers to finish, or until the
// timeout elapses.
func (b *Bus) AwaitStop(timeout time.Duration) {
	b.Stop()
	wait, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		defer cancel()
		b.async.workers.Wait()
		if b.ownedSink != nil {
			b.ownedSink.stopped.Wait()
		}
	}()
	<-wait.Done()
}

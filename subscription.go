package eventbus

import (
	"github.com/google/uuid"
	"reflect"
)

// ThreadMode selects which goroutine class executes a subscription's callback.
type ThreadMode int

const (
	// SameThread executes the callback synchronously on the goroutine that called [Bus.Post].
	// Errors and panics propagate directly to the poster.
	SameThread ThreadMode = iota
	// Affinity marshals the callback onto the bus's single affinity [Sink].
	Affinity
	// Async submits the callback to the bus's worker pool.
	Async
)

func (m ThreadMode) String() string {
	switch m {
	case SameThread:
		return "same-thread"
	case Affinity:
		return "affinity"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// CallbackDescriptor identifies one bound callback of a subscriber.
// The Name must be stable across repeated scans of the same subscriber, since
// it's half of the duplicate-detection key for re-registration.
type CallbackDescriptor struct {
	// Name is a stable identifier for the callback, unique within its subscriber.
	Name string
	// Payload is the exact event type the callback accepts.
	Payload reflect.Type

	invoke func(event any) error
}

func (d CallbackDescriptor) same(other CallbackDescriptor) bool {
	return d.Name == other.Name && d.Payload == other.Payload
}

// Subscription binds one subscriber callback to an [EventIdentity] with a [ThreadMode].
type Subscription struct {
	id         uuid.UUID
	subscriber any
	descriptor CallbackDescriptor
	mode       ThreadMode
}

func newSubscription(subscriber any, decl Declaration) *Subscription {
	return &Subscription{
		id:         uuid.New(),
		subscriber: subscriber,
		descriptor: CallbackDescriptor{
			Name:    decl.Name,
			Payload: decl.Payload,
			invoke:  decl.Callback,
		},
		mode: decl.Mode,
	}
}

// ID is a unique identifier for this registration, useful for correlating logs.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Subscriber returns the subscriber instance this subscription belongs to.
func (s *Subscription) Subscriber() any {
	return s.subscriber
}

// Descriptor returns the callback descriptor for this subscription.
func (s *Subscription) Descriptor() CallbackDescriptor {
	return s.descriptor
}

// Mode returns the [ThreadMode] the callback executes under.
func (s *Subscription) Mode() ThreadMode {
	return s.mode
}

func (s *Subscription) invoke(event any) error {
	return s.descriptor.invoke(event)
}

// duplicates reports whether two subscriptions bind the same subscriber
// callback. The thread mode is deliberately not part of the comparison, so
// re-registering a callback can never produce a second delivery.
func (s *Subscription) duplicates(other *Subscription) bool {
	return sameSubscriber(s.subscriber, other.subscriber) && s.descriptor.same(other.descriptor)
}

// comparableSubscriber reports whether subscriber has an identity the
// registry can match on. Non-comparable dynamic types (slices, maps, funcs)
// would defeat both duplicate detection and unregistration, so [Bus.Register]
// rejects them as a configuration error.
func comparableSubscriber(subscriber any) bool {
	t := reflect.TypeOf(subscriber)
	return t != nil && t.Comparable()
}

// sameSubscriber is an identity comparison. Two distinct subscriber instances
// of the same type must never be conflated, so this is pointer equality for
// the pointer subscribers the [Scanner] contract expects, and plain equality
// for comparable values.
func sameSubscriber(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

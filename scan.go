package eventbus

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNoCallback       = errors.New("declaration has no callback")
	ErrNoName           = errors.New("declaration has no name")
	ErrNoPayloadType    = errors.New("declaration has no payload type")
	ErrInterfacePayload = errors.New("payload type must be concrete")
	ErrUnknownMode      = errors.New("unknown thread mode")
	ErrPayloadMismatch  = errors.New("unexpected payload type")
)

// Declaration is one subscription declared by a subscriber: the payload type
// and tag forming the [EventIdentity], the [ThreadMode], and the bound callback.
// Use [Handle] or [HandleTag] to construct well-formed declarations.
type Declaration struct {
	// Name is a stable identifier for the callback, unique within its subscriber.
	// Scanning the same subscriber twice must yield the same names, since they
	// drive duplicate detection.
	Name string
	// Payload is the exact event type the callback accepts. Interface types
	// are rejected; dispatch never matches across subtypes.
	Payload reflect.Type
	// Tag selects the channel, defaulting to [DefaultTag] when empty.
	Tag string
	// Mode selects where the callback executes.
	Mode ThreadMode
	// Callback is the bound single-argument callback.
	Callback func(event any) error
}

// Handle declares a callback for events of type T on the default channel.
func Handle[T any](name string, mode ThreadMode, fn func(T) error) Declaration {
	return HandleTag[T](name, DefaultTag, mode, fn)
}

// HandleTag declares a callback for events of type T on the channel named by tag.
func HandleTag[T any](name, tag string, mode ThreadMode, fn func(T) error) Declaration {
	payload := reflect.TypeOf((*T)(nil)).Elem()
	var callback func(any) error
	if fn != nil {
		callback = func(event any) error {
			val, ok := event.(T)
			if !ok {
				return fmt.Errorf("%w: %s accepts %s, got %T", ErrPayloadMismatch, name, payload, event)
			}
			return fn(val)
		}
	}
	return Declaration{
		Name:     name,
		Payload:  payload,
		Tag:      tag,
		Mode:     mode,
		Callback: callback,
	}
}

func (d Declaration) identity() EventIdentity {
	return EventIdentity{Payload: d.Payload, Tag: normalizeTag(d.Tag)}
}

// validate reports configuration errors that make a declaration unregisterable.
func (d Declaration) validate() error {
	if len(d.Name) == 0 {
		return ErrNoName
	}
	if d.Callback == nil {
		return fmt.Errorf("%w: %s", ErrNoCallback, d.Name)
	}
	if d.Payload == nil {
		return fmt.Errorf("%w: %s", ErrNoPayloadType, d.Name)
	}
	if d.Payload.Kind() == reflect.Interface {
		return fmt.Errorf("%w: %s declares %s", ErrInterfacePayload, d.Name, d.Payload)
	}
	if d.Mode < SameThread || d.Mode > Async {
		return fmt.Errorf("%w: %s declares mode %d", ErrUnknownMode, d.Name, d.Mode)
	}
	return nil
}

// Scanner produces the subscription declarations for a subscriber instance.
// It's consulted once per [Bus.Register] call. How declarations are discovered
// is up to the implementation; the bus only depends on the returned tuples.
type Scanner interface {
	Scan(subscriber any) ([]Declaration, error)
}

// ScannerFunc is a function adapter for [Scanner].
type ScannerFunc func(subscriber any) ([]Declaration, error)

func (f ScannerFunc) Scan(subscriber any) ([]Declaration, error) {
	return f(subscriber)
}

// Declarer is implemented by subscribers that declare their own subscriptions.
// This is the discovery mechanism used by [DeclaredScanner].
type Declarer interface {
	EventDeclarations() []Declaration
}

// DeclaredScanner is the default [Scanner]. It reads declarations from
// subscribers implementing [Declarer], and yields none for anything else.
type DeclaredScanner struct{}

func (DeclaredScanner) Scan(subscriber any) ([]Declaration, error) {
	declarer, ok := subscriber.(Declarer)
	if !ok {
		return nil, nil
	}
	return declarer.EventDeclarations(), nil
}

package eventbus

import (
	"fmt"
	"reflect"
)

// DefaultTag is the tag assigned to posts and declarations that don't specify one.
const DefaultTag = "default"

// EventIdentity is the key a [Subscription] is registered under: the concrete
// payload type of the event plus a routing tag. Two identities are equal only
// when both fields are equal, so the same payload type can back any number of
// independent channels by varying the tag.
type EventIdentity struct {
	Payload reflect.Type
	Tag     string
}

// IdentityOf derives the [EventIdentity] for an event value.
// An empty tag is replaced with [DefaultTag].
func IdentityOf(event any, tag string) EventIdentity {
	return EventIdentity{
		Payload: reflect.TypeOf(event),
		Tag:     normalizeTag(tag),
	}
}

// Identity derives the [EventIdentity] for the payload type T.
// A tag may be specified to select a channel other than [DefaultTag].
func Identity[T any](tag ...string) EventIdentity {
	id := EventIdentity{
		Payload: reflect.TypeOf((*T)(nil)).Elem(),
		Tag:     DefaultTag,
	}
	if len(tag) > 0 {
		id.Tag = normalizeTag(tag[0])
	}
	return id
}

func (id EventIdentity) String() string {
	if id.Payload == nil {
		return fmt.Sprintf("<nil>[%s]", id.Tag)
	}
	return fmt.Sprintf("%s[%s]", id.Payload, id.Tag)
}

func normalizeTag(tag string) string {
	if len(tag) == 0 {
		return DefaultTag
	}
	return tag
}

package eventbus

import (
	"github.com/saylorsolutions/x/structures/set"
	"github.com/saylorsolutions/x/syncx"
	"sync"
)

// Registry owns the mapping from [EventIdentity] to the ordered list of
// [Subscription] registered for it. Lists are replaced, never mutated in
// place, so a slice returned from [Registry.Lookup] is a stable snapshot that
// stays safe to iterate while other goroutines register and unregister.
type Registry struct {
	mux  sync.RWMutex
	subs map[EventIdentity][]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{
		subs: map[EventIdentity][]*Subscription{},
	}
}

// Register appends sub to the list for id, preserving insertion order.
// It returns false without changes when the same subscriber callback is
// already registered for id, regardless of thread mode.
func (r *Registry) Register(id EventIdentity, sub *Subscription) bool {
	if sub == nil || sub.subscriber == nil {
		return false
	}
	return syncx.LockFuncT(&r.mux, func() bool {
		current := r.subs[id]
		for _, existing := range current {
			if existing.duplicates(sub) {
				return false
			}
		}
		next := make([]*Subscription, len(current), len(current)+1)
		copy(next, current)
		r.subs[id] = append(next, sub)
		return true
	})
}

// Unregister removes every subscription owned by subscriber across all
// identities, dropping any identity whose list becomes empty. Returns the
// number of subscriptions removed; zero for an unknown or nil subscriber.
func (r *Registry) Unregister(subscriber any) int {
	if subscriber == nil {
		return 0
	}
	return syncx.LockFuncT(&r.mux, func() int {
		var removed int
		for id, current := range r.subs {
			kept := make([]*Subscription, 0, len(current))
			for _, sub := range current {
				if sameSubscriber(sub.subscriber, subscriber) {
					removed++
					continue
				}
				kept = append(kept, sub)
			}
			if len(kept) == len(current) {
				continue
			}
			if len(kept) == 0 {
				delete(r.subs, id)
				continue
			}
			r.subs[id] = kept
		}
		return removed
	})
}

// Lookup returns the ordered subscriptions for id as a point-in-time snapshot.
// The result is never nil semantics-wise: an unknown identity yields an empty
// slice. Callers must not modify the returned slice.
func (r *Registry) Lookup(id EventIdentity) []*Subscription {
	return syncx.RLockFuncT(&r.mux, func() []*Subscription {
		return r.subs[id]
	})
}

// Identities returns the set of identities that currently have subscriptions.
func (r *Registry) Identities() set.Set[EventIdentity] {
	return syncx.RLockFuncT(&r.mux, func() set.Set[EventIdentity] {
		return set.FromKeys(r.subs)
	})
}

// Count returns the total number of registered subscriptions.
func (r *Registry) Count() int {
	return syncx.RLockFuncT(&r.mux, func() int {
		var total int
		for _, subs := range r.subs {
			total += len(subs)
		}
		return total
	})
}

// clear drops every entry so no subscriber references are retained.
func (r *Registry) clear() {
	syncx.LockFunc(&r.mux, func() {
		r.subs = map[EventIdentity][]*Subscription{}
	})
}

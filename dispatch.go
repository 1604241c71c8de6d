package eventbus

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// pendingEvent pairs a resolved identity with the posted event so a nested
// drain can never hand a callback the wrong payload.
type pendingEvent struct {
	identity EventIdentity
	event    any
}

// pendingQueue is the FIFO of events awaiting dispatch on one goroutine.
type pendingQueue struct {
	mux   sync.Mutex
	items []pendingEvent
}

func (q *pendingQueue) push(p pendingEvent) {
	q.mux.Lock()
	defer q.mux.Unlock()
	q.items = append(q.items, p)
}

func (q *pendingQueue) pop() (pendingEvent, bool) {
	q.mux.Lock()
	defer q.mux.Unlock()
	if len(q.items) == 0 {
		return pendingEvent{}, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

func (q *pendingQueue) identities() []EventIdentity {
	q.mux.Lock()
	defer q.mux.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	ids := make([]EventIdentity, len(q.items))
	for i, item := range q.items {
		ids[i] = item.identity
	}
	return ids
}

// gid returns the current goroutine's id, parsed from the header line of
// [runtime.Stack]. The runtime exposes no cheaper accessor, and the pending
// queue must be keyed per posting goroutine.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, _ := strconv.ParseUint(string(header), 10, 64)
	return id
}

// dispatcher resolves a posted event to its subscriptions and routes each
// invocation to the handler for its thread mode.
type dispatcher struct {
	registry *Registry
	same     handler
	affinity handler
	async    handler

	// pending maps goroutine id to that goroutine's queue of undispatched events.
	pending sync.Map
}

// post enqueues the event on the calling goroutine's pending queue, then
// drains that queue until it's empty. A callback running in SameThread mode
// that posts again re-enters the same queue, and its nested post performs the
// drain, so all same-goroutine work completes before the outermost post
// returns.
func (d *dispatcher) post(event any, tag string) error {
	g := gid()
	queued, _ := d.pending.LoadOrStore(g, new(pendingQueue))
	queue := queued.(*pendingQueue)
	queue.push(pendingEvent{identity: IdentityOf(event, tag), event: event})
	return d.drain(g, queue)
}

// drain pops and dispatches until the queue is empty. A SameThread callback
// error aborts the drain and propagates to the poster; anything still queued
// stays pending for the goroutine's next post, mirroring how an error unwinds
// past the loop.
func (d *dispatcher) drain(g uint64, queue *pendingQueue) error {
	for {
		next, ok := queue.pop()
		if !ok {
			d.pending.Delete(g)
			return nil
		}
		for _, sub := range d.registry.Lookup(next.identity) {
			if err := d.handlerFor(sub.mode).handle(invocation{sub: sub, event: next.event}); err != nil {
				if len(queue.identities()) == 0 {
					d.pending.Delete(g)
				}
				return err
			}
		}
	}
}

func (d *dispatcher) handlerFor(mode ThreadMode) handler {
	switch mode {
	case SameThread:
		return d.same
	case Affinity:
		return d.affinity
	default:
		return d.async
	}
}

// pendingIdentities snapshots the calling goroutine's queue.
func (d *dispatcher) pendingIdentities() []EventIdentity {
	queued, ok := d.pending.Load(gid())
	if !ok {
		return nil
	}
	return queued.(*pendingQueue).identities()
}

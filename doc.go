/*
Package eventbus provides an in-process publish/subscribe bus where subscribers
are indexed by event type and an optional tag, and every subscription chooses
the goroutine class its callback runs on.

# Bus Primitives

Every posted value is routed by its [EventIdentity]: the concrete payload type
plus a tag. The tag defaults to [DefaultTag], so the common case is simply
posting a value of some event type and handling that type on the other side.
Distinct tags carve independent channels out of the same payload type, similar
to an action string on a broadcast.

A subscriber declares its callbacks as [Declaration] values, most conveniently
through [Handle] and [HandleTag]. Each declaration binds a single-argument
callback to one payload type with exact matching; there is no polymorphic
dispatch across interfaces or embedded types, which keeps routing a map lookup.
Each declaration also picks a [ThreadMode]:

  - [SameThread] runs the callback on the posting goroutine before
    [Bus.Post] returns. Errors and panics propagate to the poster.
  - [Affinity] marshals the callback onto one designated goroutine (the
    [Sink]), useful when callbacks must touch single-threaded state like a
    UI loop. Errors are reported, never propagated.
  - [Async] runs the callback on a worker pool. Errors are reported, never
    propagated, and posting never blocks on a busy pool.

# Discovery

The bus doesn't dictate how declarations are discovered. [Bus.Register] hands
the subscriber to its [Scanner], and registers whatever declarations come
back. The default [DeclaredScanner] asks the subscriber itself via the
[Declarer] interface, which keeps discovery explicit and compile-checked.
Registering the same callback twice is harmless; duplicates are detected by
subscriber identity and callback name, so re-registration can't double
deliveries.

# Initialization

There are two distinct ways to get a [Bus]:

  - Use [Instance] for a shared global bus, optionally configured first with
    [InitInstance].
  - Use [New] for an independent instance. Tests should prefer this to avoid
    leaking registrations between cases.

Subscribers are referenced, not owned: call [Bus.Unregister] when a subscriber
goes away, and [Bus.Stop] or [Bus.AwaitStop] when the bus does, so the bus is
never the reason an object outlives its owner.

# Event Flow

Posting enqueues the event on the posting goroutine's pending queue and drains
that queue in FIFO order before returning. A [SameThread] callback that posts
again therefore has the new event handled within the same outer post, with no
deadlock and no starvation of the original event. Ordering is guaranteed only
per identity per posting goroutine, in registration order; nothing is promised
between thread modes or between concurrent posters.
*/
package eventbus

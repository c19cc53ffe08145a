package roomsync

import (
	"context"
	"slices"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/connectivity"
	"github.com/plaudern/plaudern/internal/metrics"
)

type event interface {
	apply(c *Controller)
}

// callEvent runs fn on the loop and closes done.
type callEvent struct {
	fn   func()
	done chan struct{}
}

func (e callEvent) apply(*Controller) {
	e.fn()
	close(e.done)
}

// snapshotEvent is one delivery from the subscription made under token.
type snapshotEvent struct {
	token uint64
	msgs  []chat.Message
}

func (e snapshotEvent) apply(c *Controller) { c.applySnapshot(e) }

// post enqueues ev. It returns false once the controller is closed.
func (c *Controller) post(ev event) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	if !c.started.Load() {
		if c.isClosed() {
			return ErrClosed
		}
		return ErrNotStarted
	}
	done := make(chan struct{})
	if !c.post(callEvent{fn: fn, done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case ev := <-c.events:
			ev.apply(c)
		case <-c.done:
			c.teardown()
			return
		}
	}
}

// teardown cancels the live subscription and drops whatever is still queued.
// Callers waiting on dropped calls are released by stopped.
func (c *Controller) teardown() {
	c.cancelSubscription()
	c.token++
	for {
		select {
		case <-c.events:
		default:
			c.log.Debug().Msg("controller closed")
			return
		}
	}
}

func (c *Controller) initialize() {
	c.initialized = true
	c.online = c.conn.State()
	c.log.Info().Stringer("connectivity", c.online).Msg("controller started")
	if c.online == connectivity.Online {
		c.enterLive()
		return
	}
	c.enterCacheLoaded()
}

func (c *Controller) applyConnectivity(ev connectivity.Event) {
	// Anything queued before initialization is already reflected in the
	// state read by initialize.
	if !c.initialized {
		return
	}
	if ev.Err != nil {
		c.report(&Error{Kind: ConnectivityUnknown, Op: "connectivity", Err: ev.Err})
	}
	if ev.To == c.online {
		return
	}
	c.online = ev.To
	metrics.ConnectivityTransitions.WithLabelValues(ev.To.String()).Inc()

	switch {
	case ev.To == connectivity.Online && c.state == CacheLoaded:
		c.enterLive()
	case ev.To == connectivity.Offline && c.state == LiveSynced:
		c.enterCacheLoaded()
	}
}

// enterLive opens a fresh subscription. On failure the controller falls back
// to the cache and waits for the next Online transition.
func (c *Controller) enterLive() {
	c.cancelSubscription()
	c.token++
	c.setState(LiveSynced)

	ctx, cancel := context.WithTimeout(c.ctx, c.subscribeTimeout)
	defer cancel()
	sub, err := c.channel.Subscribe(ctx, c.deliverer(c.token))
	if err != nil {
		metrics.SubscriptionFailures.Inc()
		c.log.Warn().Err(err).Msg("subscribe failed, serving cache")
		c.report(&Error{Kind: SubscriptionFailure, Op: "subscribe", Err: err})
		c.enterCacheLoaded()
		return
	}
	c.sub = sub
	metrics.ActiveSubscriptions.Inc()
}

func (c *Controller) enterCacheLoaded() {
	c.cancelSubscription()
	c.token++
	c.setState(CacheLoaded)

	ctx, cancel := context.WithTimeout(context.Background(), c.cacheTimeout)
	defer cancel()
	msgs, ok, err := c.cache.Get(ctx)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		c.log.Warn().Err(err).Msg("cache read failed, treating as absent")
		c.report(&Error{Kind: CacheIOFailure, Op: "cache get", Err: err})
		ok = false
	}
	if !ok {
		msgs = []chat.Message{}
	}
	c.publish(chat.Sort(msgs))
}

func (c *Controller) cancelSubscription() {
	if c.sub == nil {
		return
	}
	c.sub.Cancel()
	c.sub = nil
	metrics.ActiveSubscriptions.Dec()
}

func (c *Controller) setState(s State) {
	if c.state != s {
		c.log.Info().Stringer("from", c.state).Stringer("to", s).Msg("sync state changed")
	}
	c.state = s
	metrics.SetControllerState(s.String(), stateNames...)
}

func (c *Controller) applySnapshot(e snapshotEvent) {
	if e.token != c.token || c.state != LiveSynced {
		metrics.SnapshotsDiscarded.WithLabelValues("stale").Inc()
		c.log.Debug().Uint64("token", e.token).Msg("discarding stale snapshot")
		return
	}
	msgs := chat.Sort(e.msgs)
	if c.hasPublished && chat.Equal(msgs, c.published) {
		metrics.SnapshotsDiscarded.WithLabelValues("unchanged").Inc()
		return
	}
	c.log.Debug().Int("messages", len(msgs)).Msg("snapshot delivered")
	metrics.SnapshotsApplied.Inc()
	c.publish(msgs)

	ctx, cancel := context.WithTimeout(context.Background(), c.cacheTimeout)
	defer cancel()
	if err := c.cache.Put(ctx, msgs); err != nil {
		metrics.CacheErrors.WithLabelValues("put").Inc()
		c.log.Warn().Err(err).Msg("cache write failed")
		c.report(&Error{Kind: CacheIOFailure, Op: "cache put", Err: err})
	}
}

func (c *Controller) publish(msgs []chat.Message) {
	c.published = msgs
	c.hasPublished = true
	for _, l := range c.listeners {
		l.fn(slices.Clone(msgs))
	}
}

func (c *Controller) report(err *Error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// Package remote implements the room's remote message channel: an ordered,
// append-only collection that can be subscribed to as a stream of full
// snapshots.
package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/plaudern/plaudern/internal/chat"
)

// ErrClosed is returned by channels that have been shut down.
var ErrClosed = errors.New("remote: channel closed")

// SnapshotFunc receives the complete current room sequence, newest first.
// Each call replaces everything delivered before it.
type SnapshotFunc func(msgs []chat.Message)

// Subscription is the handle returned by Subscribe.
type Subscription interface {
	// Cancel stops future deliveries. It is idempotent and does not wait for
	// an in-flight delivery to finish, so one more snapshot may still arrive.
	Cancel()
}

// Channel is the remote ordered message collection of one room.
type Channel interface {
	// Subscribe establishes a live view of the room. ctx bounds the
	// establishment only; the subscription lives until it is cancelled.
	Subscribe(ctx context.Context, onSnapshot SnapshotFunc) (Subscription, error)

	// Append durably adds msg to the room. The store assigns the message ID and
	// commit time; the stored message shows up in a later snapshot.
	Append(ctx context.Context, msg chat.Message) error
}

// subscription is the handle shared by the polling channels.
type subscription struct {
	once  sync.Once
	done  chan struct{}
	nudge chan struct{}
	stop  func()
}

func newSubscription(stop func()) *subscription {
	return &subscription{
		done:  make(chan struct{}),
		nudge: make(chan struct{}, 1),
		stop:  stop,
	}
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *subscription) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// poke asks the watch loop to re-read the collection without waiting for the
// next tick. Pokes coalesce.
func (s *subscription) poke() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// registry tracks live subscriptions so appends can wake them up.
type registry struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

func (r *registry) add(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		r.subs = make(map[*subscription]struct{})
	}
	r.subs[s] = struct{}{}
}

func (r *registry) remove(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, s)
}

func (r *registry) pokeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.subs {
		s.poke()
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

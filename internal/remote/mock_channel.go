package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/plaudern/plaudern/internal/chat"
)

// MockChannel implements Channel for testing. It records appends and
// subscriptions, and lets tests push snapshots to any subscription,
// including ones that were already cancelled.
type MockChannel struct {
	mu           sync.Mutex
	subs         []*MockSubscription
	appended     []chat.Message
	stored       []chat.Message
	subscribeErr error
	appendErr    error
	autoDeliver  bool
	seq          int
}

// MockSubscription is the handle returned by MockChannel.Subscribe.
type MockSubscription struct {
	mu          sync.Mutex
	fn          SnapshotFunc
	cancelled   bool
	cancelCount int
}

// NewMockChannel creates an empty MockChannel.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// Subscribe registers fn. It fails with the error set by SetSubscribeError.
func (m *MockChannel) Subscribe(ctx context.Context, fn SnapshotFunc) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	sub := &MockSubscription{fn: fn}
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Append records msg. With auto-delivery enabled it also commits msg with a
// sequential ID and pushes the new room to every active subscription.
func (m *MockChannel) Append(ctx context.Context, msg chat.Message) error {
	m.mu.Lock()
	if m.appendErr != nil {
		err := m.appendErr
		m.mu.Unlock()
		return err
	}
	m.appended = append(m.appended, msg)
	if !m.autoDeliver {
		m.mu.Unlock()
		return nil
	}
	m.seq++
	msg.ID = fmt.Sprintf("m-%04d", m.seq)
	m.stored = append(m.stored, msg)
	snapshot := chat.Sort(m.stored)
	m.mu.Unlock()

	m.Deliver(snapshot)
	return nil
}

// Cancel marks the subscription cancelled.
func (s *MockSubscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.cancelCount++
}

// Cancelled reports whether Cancel was called.
func (s *MockSubscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// CancelCount returns how many times Cancel was called.
func (s *MockSubscription) CancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCount
}

// Deliver invokes the subscription callback whether or not it was
// cancelled, simulating a delivery already in flight.
func (s *MockSubscription) Deliver(msgs []chat.Message) {
	s.fn(msgs)
}

// --- Test helpers ---

// SetSubscribeError makes subsequent Subscribe calls fail with err.
func (m *MockChannel) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// SetAppendError makes subsequent Append calls fail with err.
func (m *MockChannel) SetAppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// SetAutoDeliver toggles committing appends and delivering the result.
func (m *MockChannel) SetAutoDeliver(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoDeliver = on
}

// Deliver pushes msgs to every active subscription and returns how many
// received it.
func (m *MockChannel) Deliver(msgs []chat.Message) int {
	active := m.activeSubs()
	for _, s := range active {
		s.Deliver(msgs)
	}
	return len(active)
}

// Active returns the number of subscriptions that were not cancelled.
func (m *MockChannel) Active() int {
	return len(m.activeSubs())
}

func (m *MockChannel) activeSubs() []*MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MockSubscription
	for _, s := range m.subs {
		if !s.Cancelled() {
			out = append(out, s)
		}
	}
	return out
}

// Subscriptions returns every subscription ever created, in order.
func (m *MockChannel) Subscriptions() []*MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSubscription, len(m.subs))
	copy(out, m.subs)
	return out
}

// LastSubscription returns the most recent subscription, or nil.
func (m *MockChannel) LastSubscription() *MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}

// Appended returns a copy of every message passed to Append.
func (m *MockChannel) Appended() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Message, len(m.appended))
	copy(out, m.appended)
	return out
}

// Package roomsync keeps a chat room's message list in step with the remote
// store while online and serves the last cached copy while offline.
//
// All controller state is owned by a single event loop goroutine.
// Connectivity transitions, snapshot deliveries, submit state checks, queries
// and teardown are all events on that loop, applied in arrival order.
package roomsync

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/plaudern/plaudern/internal/cache"
	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/connectivity"
	"github.com/plaudern/plaudern/internal/metrics"
	"github.com/plaudern/plaudern/internal/remote"
)

// State is the controller's sync state.
type State int

const (
	// CacheLoaded serves the cached snapshot and rejects submissions.
	CacheLoaded State = iota
	// LiveSynced holds a live subscription and publishes every delivery.
	LiveSynced
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case CacheLoaded:
		return "cache_loaded"
	case LiveSynced:
		return "live_synced"
	default:
		return "unknown"
	}
}

var stateNames = []string{CacheLoaded.String(), LiveSynced.String()}

// Default controller settings.
const (
	DefaultCacheTimeout     = 2 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second

	eventBuffer = 64
)

// ConnectivitySource is the injected view of connectivity. Subscribe must
// return a function that removes the subscription.
type ConnectivitySource interface {
	State() connectivity.State
	Subscribe(fn func(connectivity.Event)) (unsubscribe func())
}

// Display carries presentation options chosen on the start screen.
type Display struct {
	Color string
}

// Options holds parameters for creating a Controller.
type Options struct {
	Room         string
	User         chat.Sender
	Display      Display
	Channel      remote.Channel
	Cache        cache.Store
	Connectivity ConnectivitySource

	CacheTimeout     time.Duration    // per cache operation; defaults to DefaultCacheTimeout
	SubscribeTimeout time.Duration    // per subscribe attempt; defaults to DefaultSubscribeTimeout
	Clock            func() time.Time // provisional message times; defaults to time.Now
	Logger           zerolog.Logger

	// OnError, if set, receives failures the controller absorbs instead of
	// returning: subscription, cache and unknown connectivity. It runs on the
	// event loop.
	OnError func(*Error)
}

// Controller is the room sync state machine.
type Controller struct {
	room             string
	user             chat.Sender
	display          Display
	channel          remote.Channel
	cache            cache.Store
	conn             ConnectivitySource
	cacheTimeout     time.Duration
	subscribeTimeout time.Duration
	now              func() time.Time
	log              zerolog.Logger
	onError          func(*Error)

	events  chan event
	done    chan struct{} // closed by Close
	stopped chan struct{} // closed when the loop has torn down

	postMu sync.RWMutex
	closed bool

	started   atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc // set under postMu
	unsubConn func()             // set under postMu

	// Owned by the loop.
	initialized  bool
	state        State
	online       connectivity.State
	token        uint64
	sub          remote.Subscription
	published    []chat.Message
	hasPublished bool
	listeners    []listener
	nextListener int
}

type listener struct {
	id int
	fn func([]chat.Message)
}

// New creates a Controller. Call Start to begin syncing.
func New(opts Options) (*Controller, error) {
	var errs []string
	if opts.Room == "" {
		errs = append(errs, "room is required")
	}
	if opts.Channel == nil {
		errs = append(errs, "channel is required")
	}
	if opts.Cache == nil {
		errs = append(errs, "cache is required")
	}
	if opts.Connectivity == nil {
		errs = append(errs, "connectivity source is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("roomsync: new: %s", strings.Join(errs, "; "))
	}

	user := opts.User
	if user.Name == "" {
		user.Name = chat.DefaultSenderName
	}
	cacheTimeout := opts.CacheTimeout
	if cacheTimeout <= 0 {
		cacheTimeout = DefaultCacheTimeout
	}
	subscribeTimeout := opts.SubscribeTimeout
	if subscribeTimeout <= 0 {
		subscribeTimeout = DefaultSubscribeTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Controller{
		room:             opts.Room,
		user:             user,
		display:          opts.Display,
		channel:          opts.Channel,
		cache:            opts.Cache,
		conn:             opts.Connectivity,
		cacheTimeout:     cacheTimeout,
		subscribeTimeout: subscribeTimeout,
		now:              clock,
		log:              opts.Logger.With().Str("component", "roomsync").Str("room", opts.Room).Logger(),
		onError:          opts.OnError,
		events:           make(chan event, eventBuffer),
		done:             make(chan struct{}),
		stopped:          make(chan struct{}),
	}, nil
}

// User returns the identity messages are sent as.
func (c *Controller) User() chat.Sender { return c.user }

// Room returns the room name.
func (c *Controller) Room() string { return c.room }

// Display returns the presentation options.
func (c *Controller) Display() Display { return c.display }

// Start begins the event loop and enters the initial state: LiveSynced when
// the source reports Online, CacheLoaded otherwise. It returns once the
// initial state has been entered. Cancelling ctx closes the controller.
func (c *Controller) Start(ctx context.Context) error {
	c.postMu.Lock()
	if c.closed {
		c.postMu.Unlock()
		return ErrClosed
	}
	if c.started.Load() {
		c.postMu.Unlock()
		return fmt.Errorf("roomsync: start: already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started.Store(true)
	c.postMu.Unlock()

	go c.loop()
	go func() {
		select {
		case <-c.ctx.Done():
			c.Close()
		case <-c.stopped:
		}
	}()

	unsub := c.conn.Subscribe(c.connectivityChanged)
	c.postMu.Lock()
	if c.closed {
		c.postMu.Unlock()
		unsub()
		return ErrClosed
	}
	c.unsubConn = unsub
	c.postMu.Unlock()

	return c.call(func() { c.initialize() })
}

// Close tears the controller down, cancelling any live subscription. It is
// safe to call more than once. Close must not be called from a listener.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.postMu.Lock()
		c.closed = true
		close(c.done)
		started := c.started.Load()
		unsub, cancel := c.unsubConn, c.cancel
		c.unsubConn = nil
		c.postMu.Unlock()

		if !started {
			return
		}
		<-c.stopped
		if unsub != nil {
			unsub()
		}
		cancel()
	})
	return nil
}

func (c *Controller) isClosed() bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	return c.closed
}

// State returns the current sync state.
func (c *Controller) State() State {
	var s State
	if err := c.call(func() { s = c.state }); err != nil {
		return CacheLoaded
	}
	return s
}

// Messages returns the most recently published sequence, newest first.
func (c *Controller) Messages() []chat.Message {
	var out []chat.Message
	_ = c.call(func() { out = slices.Clone(c.published) })
	return out
}

// Subscribe registers fn to receive every published sequence. If something
// was already published, fn receives it right away. fn runs on the event loop
// and must not call back into the controller. The returned function removes
// the listener.
func (c *Controller) Subscribe(fn func([]chat.Message)) (unsubscribe func()) {
	id := -1
	err := c.call(func() {
		id = c.nextListener
		c.nextListener++
		c.listeners = append(c.listeners, listener{id: id, fn: fn})
		if c.hasPublished {
			fn(slices.Clone(c.published))
		}
	})
	if err != nil {
		return func() {}
	}
	return func() {
		_ = c.call(func() {
			c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

// Submit sends a draft to the room. It fails with ErrNotConnected while the
// cached view is served and with an AppendFailure *Error when the store
// rejects the message. The draft is never queued for later.
func (c *Controller) Submit(ctx context.Context, d chat.Draft) error {
	if err := d.Validate(); err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return fmt.Errorf("roomsync: submit: %w", err)
	}
	return c.append(ctx, "submit", d.Message(c.user, c.now()))
}

// Announce posts the "<name> has entered the chat" notice.
func (c *Controller) Announce(ctx context.Context) error {
	return c.append(ctx, "announce", chat.SystemNotice(chat.EnteredNotice(c.user.Name), c.now()))
}

func (c *Controller) append(ctx context.Context, op string, msg chat.Message) error {
	var s State
	if err := c.call(func() { s = c.state }); err != nil {
		return err
	}
	if s != LiveSynced {
		metrics.Submissions.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}
	if err := c.channel.Append(ctx, msg); err != nil {
		metrics.Submissions.WithLabelValues("append_failed").Inc()
		c.log.Warn().Err(err).Str("op", op).Msg("append failed")
		return &Error{Kind: AppendFailure, Op: op, Err: err}
	}
	metrics.Submissions.WithLabelValues("ok").Inc()
	return nil
}

// connectivityChanged is the ConnectivitySource callback. It returns once the
// transition has been applied.
func (c *Controller) connectivityChanged(ev connectivity.Event) {
	_ = c.call(func() { c.applyConnectivity(ev) })
}

// deliverer returns the snapshot callback for the subscription made under
// token.
func (c *Controller) deliverer(token uint64) remote.SnapshotFunc {
	return func(msgs []chat.Message) {
		c.post(snapshotEvent{token: token, msgs: msgs})
	}
}

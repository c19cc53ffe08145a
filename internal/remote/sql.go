package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/models"
)

// DefaultPollInterval is how often a SQL subscription re-reads the room.
const DefaultPollInterval = 2 * time.Second

// SQLChannelOpts holds parameters for creating a SQLChannel.
type SQLChannelOpts struct {
	DB           *gorm.DB
	Room         string
	PollInterval time.Duration    // defaults to DefaultPollInterval
	Clock        func() time.Time // commit clock; defaults to time.Now
	Logger       zerolog.Logger
}

// SQLChannel serves a room stored in a SQL table. Subscriptions poll the
// table and deliver the full ordered room whenever it changes; local appends
// trigger an immediate re-read.
type SQLChannel struct {
	db   *gorm.DB
	room string
	poll time.Duration
	now  func() time.Time
	log  zerolog.Logger
	subs registry
}

// NewSQLChannel creates a SQLChannel. The room table must already exist.
func NewSQLChannel(opts SQLChannelOpts) (*SQLChannel, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("remote: sql: db is required")
	}
	if opts.Room == "" {
		return nil, fmt.Errorf("remote: sql: room is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLChannel{
		db:   opts.DB,
		room: opts.Room,
		poll: poll,
		now:  clock,
		log:  opts.Logger.With().Str("component", "remote.sql").Str("room", opts.Room).Logger(),
	}, nil
}

// Snapshot reads the whole room, newest first.
func (c *SQLChannel) Snapshot(ctx context.Context) ([]chat.Message, error) {
	var recs []models.MessageRecord
	if err := c.db.WithContext(ctx).
		Where("room = ?", c.room).
		Order("created_at DESC").Order("id DESC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("remote: sql: snapshot %s: %w", c.room, err)
	}
	return models.Messages(recs), nil
}

// Subscribe reads the room once to establish the view, then keeps polling
// until the subscription is cancelled.
func (c *SQLChannel) Subscribe(ctx context.Context, onSnapshot SnapshotFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("remote: sql: subscribe: callback is required")
	}
	initial, err := c.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: sql: subscribe: %w", err)
	}
	var sub *subscription
	sub = newSubscription(func() { c.subs.remove(sub) })
	c.subs.add(sub)
	go c.watch(sub, initial, onSnapshot)
	return sub, nil
}

func (c *SQLChannel) watch(sub *subscription, last []chat.Message, deliver SnapshotFunc) {
	deliver(last)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
		case <-sub.nudge:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.poll*4)
		msgs, err := c.Snapshot(ctx)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Msg("poll failed")
			continue
		}
		if chat.Equal(last, msgs) || sub.cancelled() {
			continue
		}
		last = msgs
		deliver(msgs)
	}
}

// Append stores msg with a store-assigned ULID and commit time.
func (c *SQLChannel) Append(ctx context.Context, msg chat.Message) error {
	now := c.now().UTC().Truncate(time.Millisecond)
	rec := models.NewMessageRecord(c.room, msg)
	rec.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	rec.CreatedAt = now
	if rec.ClientCreatedAt.IsZero() {
		rec.ClientCreatedAt = now
	}
	if err := c.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("remote: sql: append: %w", err)
	}
	c.subs.pokeAll()
	return nil
}

// Ping checks that the database is reachable.
func (c *SQLChannel) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return fmt.Errorf("remote: sql: ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("remote: sql: ping: %w", err)
	}
	return nil
}

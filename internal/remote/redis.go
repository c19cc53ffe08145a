package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/plaudern/plaudern/internal/chat"
)

// DefaultResyncInterval is how often a Redis subscription re-reads the room
// even without a change notification, to recover from dropped pub/sub messages.
const DefaultResyncInterval = 30 * time.Second

// RedisChannelOpts holds parameters for creating a RedisChannel.
type RedisChannelOpts struct {
	Client         *redis.Client
	Room           string
	ResyncInterval time.Duration // defaults to DefaultResyncInterval
	Logger         zerolog.Logger
}

// RedisChannel keeps a room in a sorted set scored by commit time in
// milliseconds. Appends publish the new ID on the room's events channel so
// subscribers re-read immediately.
type RedisChannel struct {
	client *redis.Client
	room   string
	resync time.Duration
	log    zerolog.Logger
}

// NewRedisChannel creates a RedisChannel.
func NewRedisChannel(opts RedisChannelOpts) (*RedisChannel, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("remote: redis: client is required")
	}
	if opts.Room == "" {
		return nil, fmt.Errorf("remote: redis: room is required")
	}
	resync := opts.ResyncInterval
	if resync <= 0 {
		resync = DefaultResyncInterval
	}
	return &RedisChannel{
		client: opts.Client,
		room:   opts.Room,
		resync: resync,
		log:    opts.Logger.With().Str("component", "remote.redis").Str("room", opts.Room).Logger(),
	}, nil
}

// messagesKey returns the sorted set holding a room's messages.
func messagesKey(room string) string {
	return fmt.Sprintf("plaudern:room:%s:messages", room)
}

// eventsKey returns the pub/sub channel announcing a room's appends.
func eventsKey(room string) string {
	return fmt.Sprintf("plaudern:room:%s:events", room)
}

// Snapshot reads the whole room, newest first.
func (c *RedisChannel) Snapshot(ctx context.Context) ([]chat.Message, error) {
	members, err := c.client.ZRevRange(ctx, messagesKey(c.room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("remote: redis: snapshot %s: %w", c.room, err)
	}
	msgs, skipped := decodeMembers(members)
	if skipped > 0 {
		c.log.Warn().Int("skipped", skipped).Msg("undecodable room members")
	}
	return msgs, nil
}

// decodeMembers parses sorted set members, dropping the ones that are not
// valid messages. It returns how many were dropped.
func decodeMembers(members []string) ([]chat.Message, int) {
	msgs := make([]chat.Message, 0, len(members))
	skipped := 0
	for _, data := range members {
		var m chat.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil || m.ID == "" {
			skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, skipped
}

// encodeMember stamps msg with its store ID and commit time and serializes it.
func encodeMember(msg chat.Message, committed time.Time) (chat.Message, string, error) {
	msg.ID = ulid.MustNew(ulid.Timestamp(committed), ulid.DefaultEntropy()).String()
	msg.CreatedAt = committed
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, "", err
	}
	return msg, string(data), nil
}

// Subscribe listens on the room's events channel and reads the room once to
// establish the view.
func (c *RedisChannel) Subscribe(ctx context.Context, onSnapshot SnapshotFunc) (Subscription, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("remote: redis: subscribe: callback is required")
	}
	pubsub := c.client.Subscribe(ctx, eventsKey(c.room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("remote: redis: subscribe: %w", err)
	}
	initial, err := c.Snapshot(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("remote: redis: subscribe: %w", err)
	}
	sub := newSubscription(func() { _ = pubsub.Close() })
	go c.watch(sub, pubsub.Channel(), initial, onSnapshot)
	return sub, nil
}

func (c *RedisChannel) watch(sub *subscription, events <-chan *redis.Message, last []chat.Message, deliver SnapshotFunc) {
	deliver(last)

	ticker := time.NewTicker(c.resync)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		msgs, err := c.Snapshot(ctx)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Msg("resync failed")
			continue
		}
		if chat.Equal(last, msgs) || sub.cancelled() {
			continue
		}
		last = msgs
		deliver(msgs)
	}
}

// Append commits msg at the Redis server's clock and announces it.
func (c *RedisChannel) Append(ctx context.Context, msg chat.Message) error {
	serverNow, err := c.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("remote: redis: append: server time: %w", err)
	}
	committed := serverNow.UTC().Truncate(time.Millisecond)
	stored, member, err := encodeMember(msg, committed)
	if err != nil {
		return fmt.Errorf("remote: redis: append: encode: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, messagesKey(c.room), redis.Z{
			Score:  float64(committed.UnixMilli()),
			Member: member,
		})
		pipe.Publish(ctx, eventsKey(c.room), stored.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remote: redis: append: %w", err)
	}
	return nil
}

// Ping checks that the Redis server is reachable.
func (c *RedisChannel) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("remote: redis: ping: %w", err)
	}
	return nil
}

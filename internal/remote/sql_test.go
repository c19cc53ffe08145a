package remote

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/models"
)

func openChannelTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "room.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if migrate {
		if err := db.AutoMigrate(&models.MessageRecord{}); err != nil {
			t.Fatalf("auto migrate: %v", err)
		}
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestSQLChannel(t *testing.T, db *gorm.DB, room string) *SQLChannel {
	t.Helper()
	c, err := NewSQLChannel(SQLChannelOpts{
		DB:           db,
		Room:         room,
		PollInterval: 20 * time.Millisecond,
		Clock:        stepClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return c
}

// collector gathers snapshots delivered to a subscription.
type collector struct {
	ch chan []chat.Message
}

func newCollector() *collector { return &collector{ch: make(chan []chat.Message, 32)} }

func (c *collector) fn(msgs []chat.Message) { c.ch <- msgs }

func (c *collector) next(t *testing.T) []chat.Message {
	t.Helper()
	select {
	case msgs := <-c.ch:
		return msgs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestNewSQLChannel_Validation(t *testing.T) {
	_, err := NewSQLChannel(SQLChannelOpts{Room: "main"})
	require.EqualError(t, err, "remote: sql: db is required")

	db := openChannelTestDB(t, true)
	_, err = NewSQLChannel(SQLChannelOpts{DB: db})
	require.EqualError(t, err, "remote: sql: room is required")

	c, err := NewSQLChannel(SQLChannelOpts{DB: db, Room: "main"})
	require.NoError(t, err)
	require.Equal(t, DefaultPollInterval, c.poll)
}

func TestSQLChannel_AppendAssignsIDAndCommitTime(t *testing.T) {
	db := openChannelTestDB(t, true)
	c := newTestSQLChannel(t, db, "main")
	ctx := context.Background()

	client := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.Append(ctx, chat.Message{Text: "first", CreatedAt: client, Sender: chat.Sender{ID: "u1", Name: "alice"}}))
	require.NoError(t, c.Append(ctx, chat.Message{Text: "second", CreatedAt: client, Sender: chat.Sender{ID: "u2", Name: "bob"}}))

	msgs, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "second", msgs[0].Text)
	require.Equal(t, "first", msgs[1].Text)
	require.Len(t, msgs[0].ID, 26)
	require.True(t, msgs[0].CreatedAt.After(msgs[1].CreatedAt))
	require.True(t, msgs[1].CreatedAt.After(client), "commit time must come from the store clock")
	require.True(t, chat.IsSorted(msgs))

	var rec models.MessageRecord
	require.NoError(t, db.Where("id = ?", msgs[1].ID).First(&rec).Error)
	require.True(t, rec.ClientCreatedAt.Equal(client))
}

func TestSQLChannel_SnapshotIsRoomScoped(t *testing.T) {
	db := openChannelTestDB(t, true)
	main := newTestSQLChannel(t, db, "main")
	other := newTestSQLChannel(t, db, "other")
	ctx := context.Background()

	require.NoError(t, main.Append(ctx, chat.Message{Text: "in main"}))
	require.NoError(t, other.Append(ctx, chat.Message{Text: "in other"}))

	msgs, err := main.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "in main", msgs[0].Text)
}

func TestSQLChannel_SubscribeDeliversFullSnapshots(t *testing.T) {
	db := openChannelTestDB(t, true)
	c := newTestSQLChannel(t, db, "main")
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, chat.Message{Text: "existing"}))

	col := newCollector()
	sub, err := c.Subscribe(ctx, col.fn)
	require.NoError(t, err)
	defer sub.Cancel()

	first := col.next(t)
	require.Len(t, first, 1)

	require.NoError(t, c.Append(ctx, chat.Message{Text: "new"}))
	second := col.next(t)
	require.Len(t, second, 2)
	require.Equal(t, "new", second[0].Text)
	require.Equal(t, "existing", second[1].Text)
}

func TestSQLChannel_SubscribeFailsWithoutTable(t *testing.T) {
	db := openChannelTestDB(t, false)
	c := newTestSQLChannel(t, db, "main")

	sub, err := c.Subscribe(context.Background(), func([]chat.Message) {})
	require.Error(t, err)
	require.Nil(t, sub)
	require.Equal(t, 0, c.subs.len())
}

func TestSQLChannel_SubscribeRequiresCallback(t *testing.T) {
	db := openChannelTestDB(t, true)
	c := newTestSQLChannel(t, db, "main")
	_, err := c.Subscribe(context.Background(), nil)
	require.Error(t, err)
}

func TestSQLChannel_CancelIsIdempotent(t *testing.T) {
	db := openChannelTestDB(t, true)
	c := newTestSQLChannel(t, db, "main")

	col := newCollector()
	sub, err := c.Subscribe(context.Background(), col.fn)
	require.NoError(t, err)
	col.next(t)
	require.Equal(t, 1, c.subs.len())

	sub.Cancel()
	sub.Cancel()
	require.Equal(t, 0, c.subs.len())
}

func TestSQLChannel_Ping(t *testing.T) {
	db := openChannelTestDB(t, true)
	c := newTestSQLChannel(t, db, "main")
	require.NoError(t, c.Ping(context.Background()))
}

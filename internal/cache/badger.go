package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/plaudern/plaudern/internal/chat"
)

// BadgerOpts holds parameters for opening a BadgerStore.
type BadgerOpts struct {
	Path     string
	InMemory bool
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// BadgerStore keeps the snapshot in an embedded Badger database.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens (creating if needed) the cache database.
func OpenBadger(opts BadgerOpts) (*BadgerStore, error) {
	if opts.Path == "" && !opts.InMemory {
		return nil, fmt.Errorf("cache: badger: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(badgerLogger{opts.Logger.With().Str("component", "cache.badger").Logger()}).
		WithLoggingLevel(badger.WARNING)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("cache: badger: open %s: %w", opts.Path, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BadgerStore{db: db, now: clock}, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Put replaces the stored snapshot with msgs.
func (s *BadgerStore) Put(ctx context.Context, msgs []chat.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: put: %v", ErrCacheIO, err)
	}
	data, err := encodeSnapshot(msgs, s.now())
	if err != nil {
		return err
	}
	if err := s.set(MessagesKey, data); err != nil {
		return fmt.Errorf("%w: put: %v", ErrCacheIO, err)
	}
	return nil
}

// Get returns the stored snapshot.
func (s *BadgerStore) Get(ctx context.Context) ([]chat.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrCacheIO, err)
	}
	data, ok, err := s.get(MessagesKey)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrCacheIO, err)
	}
	if !ok {
		return nil, false, nil
	}
	msgs, err := decodeSnapshot(data)
	if err != nil {
		return nil, false, err
	}
	return msgs, true, nil
}

// Identity returns the participant ID stored on this device, generating and
// storing a random one on first use.
func (s *BadgerStore) Identity() (string, error) {
	data, ok, err := s.get(IdentityKey)
	if err != nil {
		return "", fmt.Errorf("%w: identity: %v", ErrCacheIO, err)
	}
	if ok && len(data) > 0 {
		return string(data), nil
	}
	id := uuid.NewString()
	if err := s.set(IdentityKey, []byte(id)); err != nil {
		return "", fmt.Errorf("%w: identity: %v", ErrCacheIO, err)
	}
	return id, nil
}

func (s *BadgerStore) set(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) get(key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

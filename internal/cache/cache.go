// Package cache persists the last live room snapshot on the device so it can
// be shown while offline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/plaudern/plaudern/internal/chat"
)

// Keys used in the key/value store.
const (
	MessagesKey = "plaudern/messages"
	IdentityKey = "plaudern/identity"
)

// snapshotVersion is bumped when the envelope layout changes.
const snapshotVersion = 1

// ErrCacheIO wraps every storage or serialization failure.
var ErrCacheIO = errors.New("cache: i/o failure")

// Store holds a single room snapshot. Put replaces the previous value.
type Store interface {
	Put(ctx context.Context, msgs []chat.Message) error
	// Get returns the stored snapshot, or ok=false if nothing was ever stored.
	Get(ctx context.Context) (msgs []chat.Message, ok bool, err error)
}

// envelope is the serialized form of a snapshot. Times are written as
// absolute RFC 3339 instants.
type envelope struct {
	Version  int            `json:"version"`
	SavedAt  time.Time      `json:"saved_at"`
	Messages []chat.Message `json:"messages"`
}

func encodeSnapshot(msgs []chat.Message, savedAt time.Time) ([]byte, error) {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	data, err := json.Marshal(envelope{Version: snapshotVersion, SavedAt: savedAt.UTC(), Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrCacheIO, err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]chat.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCacheIO, err)
	}
	if env.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrCacheIO, env.Version)
	}
	if env.Messages == nil {
		env.Messages = []chat.Message{}
	}
	return env.Messages, nil
}

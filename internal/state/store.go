package state

import (
	"context"
	"errors"
	"fmt"

	"monitoring/internal/config"
)

var (
	// ErrNotFound indicates absent key or hash field.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
	// ErrWrongType indicates an operation against a key holding another value type.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("store closed")
)

// Hooks receives connection lifecycle notifications.
// Params: fatal error callback and reconnect bracket callbacks (any may be nil).
// Returns: callbacks invoked by store implementations.
type Hooks struct {
	OnError         func(err error)
	BeforeReconnect func()
	AfterReconnect  func()
}

func (h Hooks) fireError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Hooks) fireBeforeReconnect() {
	if h.BeforeReconnect != nil {
		h.BeforeReconnect()
	}
}

func (h Hooks) fireAfterReconnect() {
	if h.AfterReconnect != nil {
		h.AfterReconnect()
	}
}

// Store provides client registry, event ledger, aggregate, and lease primitives.
// Params: string, set, hash, and list operations with redis semantics.
// Returns: backend persistence behavior.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string) (bool, error)
	GetSet(ctx context.Context, key, value string) (string, error)
	Del(ctx context.Context, keys ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	Connected() bool
	SetHooks(hooks Hooks)
	Close() error
}

// DeleteWatcher is implemented by stores that can push key deletion notices.
// Params: key to watch and callback invoked after each deletion.
// Returns: stop function or setup error.
type DeleteWatcher interface {
	WatchDelete(ctx context.Context, key string, onDelete func()) (func(), error)
}

// normalizeRange converts redis list indices into slice bounds.
// Params: start/stop (negative values count from the tail) and list length.
// Returns: inclusive-exclusive bounds and false when the range is empty.
func normalizeRange(start, stop int64, length int) (int, int, bool) {
	n := int64(length)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}

// New opens the configured state backend.
// Params: store section of the configuration.
// Returns: connected store or setup error.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	case config.StoreBackendRedis:
		store, err := NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreBackendNATS:
		store, err := NewNATSStore(cfg.NATS)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

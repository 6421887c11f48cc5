package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"monitoring/internal/config"

	"github.com/nats-io/nats.go"
)

const maxCASAttempts = 32

// NATSStore persists monitoring state in one JetStream KV bucket.
// Params: NATS connection and KV bucket handle; each key holds one typed JSON record.
// Returns: KV-backed state store implementation.
type NATSStore struct {
	nc       *nats.Conn
	kv       nats.KeyValue
	settings config.NATSStoreConfig

	hooksMu sync.RWMutex
	hooks   Hooks
	closing atomic.Bool
}

// kvRecord is the stored representation of one logical key.
type kvRecord struct {
	Kind  string            `json:"kind"`
	Value string            `json:"value,omitempty"`
	Set   []string          `json:"set,omitempty"`
	Hash  map[string]string `json:"hash,omitempty"`
	List  []string          `json:"list,omitempty"`
}

const (
	recordString = "string"
	recordSet    = "set"
	recordHash   = "hash"
	recordList   = "list"
)

func (r kvRecord) empty() bool {
	switch r.Kind {
	case recordSet:
		return len(r.Set) == 0
	case recordHash:
		return len(r.Hash) == 0
	case recordList:
		return len(r.List) == 0
	default:
		return false
	}
}

// NewNATSStore connects to NATS and opens (or creates) the state bucket.
// Params: NATS store settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	store := &NATSStore{settings: settings}

	nc, err := nats.Connect(strings.Join(settings.URL, ","),
		nats.Name(settings.ConnectionName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			store.currentHooks().fireBeforeReconnect()
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			store.currentHooks().fireAfterReconnect()
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !store.closing.Load() {
				store.currentHooks().fireError(errors.New("nats state connection closed"))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBucket {
			nc.Close()
			return nil, fmt.Errorf("open state bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: settings.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create state bucket %q: %w", settings.Bucket, err)
		}
	}

	store.nc = nc
	store.kv = kv
	return store, nil
}

func (s *NATSStore) currentHooks() Hooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

// encodeKey maps a logical key onto the KV key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// read loads one record.
// Params: logical key.
// Returns: record, revision, presence flag, and read error.
func (s *NATSStore) read(key string) (kvRecord, uint64, bool, error) {
	entry, err := s.kv.Get(encodeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return kvRecord{}, 0, false, nil
		}
		return kvRecord{}, 0, false, fmt.Errorf("get %q: %w", key, err)
	}
	var rec kvRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return kvRecord{}, 0, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return rec, entry.Revision(), true, nil
}

// readKind loads one record and checks its kind.
func (s *NATSStore) readKind(key, kind string) (kvRecord, bool, error) {
	rec, _, found, err := s.read(key)
	if err != nil || !found {
		return kvRecord{}, false, err
	}
	if rec.Kind != kind {
		return kvRecord{}, false, ErrWrongType
	}
	return rec, true, nil
}

// mutate applies a read-modify-write cycle guarded by KV revisions.
// Params: logical key, expected kind, and apply callback run on each attempt.
// Returns: write error, ErrWrongType, or ErrConflict after exhausting retries.
func (s *NATSStore) mutate(ctx context.Context, key, kind string, apply func(rec *kvRecord, found bool) error) error {
	encoded := encodeKey(key)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, rev, found, err := s.read(key)
		if err != nil {
			return err
		}
		if found && rec.Kind != kind {
			return ErrWrongType
		}
		if !found {
			rec = kvRecord{Kind: kind}
		}
		if err := apply(&rec, found); err != nil {
			return err
		}

		if rec.empty() {
			if !found {
				return nil
			}
			err = s.kv.Delete(encoded, nats.LastRevision(rev))
		} else {
			body, encErr := json.Marshal(rec)
			if encErr != nil {
				return fmt.Errorf("encode %q: %w", key, encErr)
			}
			if found {
				_, err = s.kv.Update(encoded, body, rev)
			} else {
				_, err = s.kv.Create(encoded, body)
			}
		}
		if err == nil {
			return nil
		}
		if isRevisionConflict(err) {
			continue
		}
		return fmt.Errorf("write %q: %w", key, err)
	}
	return ErrConflict
}

// isRevisionConflict detects CAS failures reported by JetStream.
func isRevisionConflict(err error) bool {
	return errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// Get returns string value.
// Params: key.
// Returns: value or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, key string) (string, error) {
	rec, found, err := s.readKind(key, recordString)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return rec.Value, nil
}

// Set writes string value unconditionally.
func (s *NATSStore) Set(_ context.Context, key, value string) error {
	body, err := json.Marshal(kvRecord{Kind: recordString, Value: value})
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if _, err := s.kv.Put(encodeKey(key), body); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// SetNX creates string value only when key is absent.
// Params: key and value.
// Returns: true when created.
func (s *NATSStore) SetNX(_ context.Context, key, value string) (bool, error) {
	body, err := json.Marshal(kvRecord{Kind: recordString, Value: value})
	if err != nil {
		return false, fmt.Errorf("encode %q: %w", key, err)
	}
	if _, err := s.kv.Create(encodeKey(key), body); err != nil {
		if isRevisionConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("create %q: %w", key, err)
	}
	return true, nil
}

// GetSet swaps string value under revision CAS.
// Params: key and new value.
// Returns: previous value or ErrNotFound when key was absent.
func (s *NATSStore) GetSet(ctx context.Context, key, value string) (string, error) {
	var (
		previous string
		existed  bool
	)
	err := s.mutate(ctx, key, recordString, func(rec *kvRecord, found bool) error {
		previous, existed = rec.Value, found
		rec.Value = value
		return nil
	})
	if err != nil {
		return "", err
	}
	if !existed {
		return "", ErrNotFound
	}
	return previous, nil
}

// Del removes keys.
func (s *NATSStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.kv.Delete(encodeKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return fmt.Errorf("delete %q: %w", key, err)
		}
	}
	return nil
}

// SAdd adds set members.
func (s *NATSStore) SAdd(ctx context.Context, key string, members ...string) error {
	return s.mutate(ctx, key, recordSet, func(rec *kvRecord, _ bool) error {
		seen := make(map[string]struct{}, len(rec.Set)+len(members))
		for _, member := range rec.Set {
			seen[member] = struct{}{}
		}
		for _, member := range members {
			if _, ok := seen[member]; ok {
				continue
			}
			seen[member] = struct{}{}
			rec.Set = append(rec.Set, member)
		}
		return nil
	})
}

// SRem removes set members.
func (s *NATSStore) SRem(ctx context.Context, key string, members ...string) error {
	drop := make(map[string]struct{}, len(members))
	for _, member := range members {
		drop[member] = struct{}{}
	}
	return s.mutate(ctx, key, recordSet, func(rec *kvRecord, _ bool) error {
		kept := rec.Set[:0]
		for _, member := range rec.Set {
			if _, ok := drop[member]; !ok {
				kept = append(kept, member)
			}
		}
		rec.Set = kept
		return nil
	})
}

// SMembers lists set members.
func (s *NATSStore) SMembers(_ context.Context, key string) ([]string, error) {
	rec, _, err := s.readKind(key, recordSet)
	if err != nil {
		return nil, err
	}
	return rec.Set, nil
}

// HSet writes hash field.
func (s *NATSStore) HSet(ctx context.Context, key, field, value string) error {
	return s.mutate(ctx, key, recordHash, func(rec *kvRecord, _ bool) error {
		if rec.Hash == nil {
			rec.Hash = make(map[string]string)
		}
		rec.Hash[field] = value
		return nil
	})
}

// HSetNX writes hash field only when absent.
func (s *NATSStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	var created bool
	err := s.mutate(ctx, key, recordHash, func(rec *kvRecord, _ bool) error {
		created = false
		if rec.Hash == nil {
			rec.Hash = make(map[string]string)
		}
		if _, ok := rec.Hash[field]; ok {
			return nil
		}
		rec.Hash[field] = value
		created = true
		return nil
	})
	return created, err
}

// HGet reads hash field.
// Params: hash key and field.
// Returns: value or ErrNotFound.
func (s *NATSStore) HGet(_ context.Context, key, field string) (string, error) {
	rec, found, err := s.readKind(key, recordHash)
	if err != nil {
		return "", err
	}
	value, ok := rec.Hash[field]
	if !found || !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// HGetAll reads all hash fields.
func (s *NATSStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	rec, _, err := s.readKind(key, recordHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rec.Hash))
	for field, value := range rec.Hash {
		out[field] = value
	}
	return out, nil
}

// HDel removes hash fields.
func (s *NATSStore) HDel(ctx context.Context, key string, fields ...string) error {
	return s.mutate(ctx, key, recordHash, func(rec *kvRecord, _ bool) error {
		for _, field := range fields {
			delete(rec.Hash, field)
		}
		return nil
	})
}

// HIncrBy increments integer hash field.
// Params: hash key, field, and delta.
// Returns: new value or parse error for non-integer fields.
func (s *NATSStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var next int64
	err := s.mutate(ctx, key, recordHash, func(rec *kvRecord, _ bool) error {
		if rec.Hash == nil {
			rec.Hash = make(map[string]string)
		}
		current := int64(0)
		if raw, ok := rec.Hash[field]; ok {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("hash value is not an integer: %w", err)
			}
			current = parsed
		}
		next = current + delta
		rec.Hash[field] = strconv.FormatInt(next, 10)
		return nil
	})
	return next, err
}

// RPush appends list values.
// Params: list key and values.
// Returns: new list length.
func (s *NATSStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	var length int64
	err := s.mutate(ctx, key, recordList, func(rec *kvRecord, _ bool) error {
		rec.List = append(rec.List, values...)
		length = int64(len(rec.List))
		return nil
	})
	return length, err
}

// LRange reads list slice.
func (s *NATSStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	rec, _, err := s.readKind(key, recordList)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, len(rec.List))
	if !ok {
		return []string{}, nil
	}
	return append([]string(nil), rec.List[lo:hi]...), nil
}

// LTrim keeps list slice.
func (s *NATSStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.mutate(ctx, key, recordList, func(rec *kvRecord, _ bool) error {
		lo, hi, ok := normalizeRange(start, stop, len(rec.List))
		if !ok {
			rec.List = nil
			return nil
		}
		rec.List = append([]string(nil), rec.List[lo:hi]...)
		return nil
	})
}

// WatchDelete invokes onDelete whenever key is deleted or purged.
// Params: context bounding the watch, key, and callback.
// Returns: stop function or watch setup error.
func (s *NATSStore) WatchDelete(ctx context.Context, key string, onDelete func()) (func(), error) {
	watcher, err := s.kv.Watch(encodeKey(key), nats.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("watch %q: %w", key, err)
	}
	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			_ = watcher.Stop()
		})
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				switch entry.Operation() {
				case nats.KeyValueDelete, nats.KeyValuePurge:
					onDelete()
				}
			}
		}
	}()
	return stop, nil
}

// Connected reports current NATS connectivity.
func (s *NATSStore) Connected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// SetHooks installs lifecycle hooks.
func (s *NATSStore) SetHooks(hooks Hooks) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = hooks
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.closing.Store(true)
	s.nc.Close()
	return nil
}

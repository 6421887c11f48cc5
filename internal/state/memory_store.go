package state

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore keeps monitoring state in process memory for single-instance mode.
// Params: typed in-memory entries guarded by one lock.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	closed  bool
	hooks   Hooks
}

type entryKind int

const (
	kindString entryKind = iota + 1
	kindSet
	kindHash
	kindList
)

type memoryEntry struct {
	kind  entryKind
	value string
	set   map[string]struct{}
	hash  map[string]string
	list  []string
}

// NewMemoryStore creates in-memory state store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// lookup returns entry of expected kind.
// Params: key, expected kind, and create flag.
// Returns: entry (nil when absent and not created) or ErrWrongType.
func (s *MemoryStore) lookup(key string, kind entryKind, create bool) (*memoryEntry, error) {
	if s.closed {
		return nil, ErrClosed
	}
	entry, ok := s.entries[key]
	if ok {
		if entry.kind != kind {
			return nil, ErrWrongType
		}
		return entry, nil
	}
	if !create {
		return nil, nil
	}
	entry = &memoryEntry{kind: kind}
	switch kind {
	case kindSet:
		entry.set = make(map[string]struct{})
	case kindHash:
		entry.hash = make(map[string]string)
	}
	s.entries[key] = entry
	return entry, nil
}

// Get returns string value.
// Params: key.
// Returns: value or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.lookup(key, kindString, false)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set writes string value unconditionally.
// Params: key and value.
// Returns: nil unless the store is closed.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[key] = &memoryEntry{kind: kindString, value: value}
	return nil
}

// SetNX writes string value only when key is absent.
// Params: key and value.
// Returns: true when the key was created.
func (s *MemoryStore) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = &memoryEntry{kind: kindString, value: value}
	return true, nil
}

// GetSet swaps string value atomically.
// Params: key and new value.
// Returns: previous value or ErrNotFound when key was absent (value is still written).
func (s *MemoryStore) GetSet(_ context.Context, key, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindString, false)
	if err != nil {
		return "", err
	}
	s.entries[key] = &memoryEntry{kind: kindString, value: value}
	if entry == nil {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Del removes keys of any kind.
// Params: keys.
// Returns: nil unless the store is closed.
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// SAdd adds set members.
// Params: set key and members.
// Returns: ErrWrongType for non-set keys.
func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindSet, true)
	if err != nil {
		return err
	}
	for _, member := range members {
		entry.set[member] = struct{}{}
	}
	return nil
}

// SRem removes set members; empty sets are deleted.
// Params: set key and members.
// Returns: ErrWrongType for non-set keys.
func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindSet, false)
	if err != nil || entry == nil {
		return err
	}
	for _, member := range members {
		delete(entry.set, member)
	}
	if len(entry.set) == 0 {
		delete(s.entries, key)
	}
	return nil
}

// SMembers lists set members in sorted order.
// Params: set key.
// Returns: members (empty for absent key).
func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.lookup(key, kindSet, false)
	if err != nil || entry == nil {
		return nil, err
	}
	members := make([]string, 0, len(entry.set))
	for member := range entry.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// HSet writes hash field.
// Params: hash key, field, and value.
// Returns: ErrWrongType for non-hash keys.
func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindHash, true)
	if err != nil {
		return err
	}
	entry.hash[field] = value
	return nil
}

// HSetNX writes hash field only when absent.
// Params: hash key, field, and value.
// Returns: true when the field was created.
func (s *MemoryStore) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindHash, true)
	if err != nil {
		return false, err
	}
	if _, ok := entry.hash[field]; ok {
		return false, nil
	}
	entry.hash[field] = value
	return true, nil
}

// HGet reads hash field.
// Params: hash key and field.
// Returns: value or ErrNotFound.
func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.lookup(key, kindHash, false)
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", ErrNotFound
	}
	value, ok := entry.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// HGetAll copies all hash fields.
// Params: hash key.
// Returns: field map (empty for absent key).
func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.lookup(key, kindHash, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if entry == nil {
		return out, nil
	}
	for field, value := range entry.hash {
		out[field] = value
	}
	return out, nil
}

// HDel removes hash fields; empty hashes are deleted.
// Params: hash key and fields.
// Returns: ErrWrongType for non-hash keys.
func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindHash, false)
	if err != nil || entry == nil {
		return err
	}
	for _, field := range fields {
		delete(entry.hash, field)
	}
	if len(entry.hash) == 0 {
		delete(s.entries, key)
	}
	return nil
}

// HIncrBy increments integer hash field.
// Params: hash key, field, and delta.
// Returns: new value or parse error for non-integer fields.
func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindHash, true)
	if err != nil {
		return 0, err
	}
	var current int64
	if raw, ok := entry.hash[field]; ok {
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, ErrWrongType
		}
	}
	current += delta
	entry.hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// RPush appends list values.
// Params: list key and values.
// Returns: new list length.
func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindList, true)
	if err != nil {
		return 0, err
	}
	entry.list = append(entry.list, values...)
	return int64(len(entry.list)), nil
}

// LRange reads list slice with redis index semantics.
// Params: list key and inclusive start/stop indices.
// Returns: selected values (empty for absent key).
func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.lookup(key, kindList, false)
	if err != nil || entry == nil {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, len(entry.list))
	if !ok {
		return nil, nil
	}
	return append([]string(nil), entry.list[lo:hi]...), nil
}

// LTrim keeps list slice with redis index semantics.
// Params: list key and inclusive start/stop indices.
// Returns: ErrWrongType for non-list keys.
func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.lookup(key, kindList, false)
	if err != nil || entry == nil {
		return err
	}
	lo, hi, ok := normalizeRange(start, stop, len(entry.list))
	if !ok {
		delete(s.entries, key)
		return nil
	}
	entry.list = append([]string(nil), entry.list[lo:hi]...)
	return nil
}

// Connected reports whether the store is open.
func (s *MemoryStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// SetHooks stores lifecycle hooks; the memory store never reconnects.
func (s *MemoryStore) SetHooks(hooks Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = hooks
}

// Close marks store closed.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

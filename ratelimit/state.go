package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-github-app/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the last observed rate-limit posture for a bucket. It is advisory:
// the Invoker remains the only retry policy, but hosts can consult state to
// decline work while a throttle window is active.
type State struct {
	Key        core.RateLimitKey
	Limit      int
	Remaining  int
	ResetAt    *time.Time
	LastStatus int
	UpdatedAt  time.Time
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Tracker records rate-limit headers observed on platform responses.
type Tracker struct {
	Store StateStore
	Now   func() time.Time
}

func NewTracker(store StateStore) *Tracker {
	return &Tracker{
		Store: store,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Observe updates the stored state from a response's rate-limit headers.
// Responses without rate-limit headers leave the stored counters untouched.
func (t *Tracker) Observe(ctx context.Context, key core.RateLimitKey, statusCode int, headers map[string]string) error {
	if t == nil || t.Store == nil {
		return nil
	}
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return err
	}
	state, err := t.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = statusCode
	state.UpdatedAt = t.now()
	if limit, ok := parseHeaderInt(headers, headerLimit); ok {
		state.Limit = limit
	}
	if remaining, ok := parseHeaderInt(headers, headerRemaining); ok {
		state.Remaining = remaining
	}
	if resetAt, ok := parseHeaderEpoch(headers, headerReset); ok {
		state.ResetAt = &resetAt
	}
	return t.Store.Upsert(ctx, state)
}

// Throttled reports whether the bucket is inside a known throttle window.
func (t *Tracker) Throttled(ctx context.Context, key core.RateLimitKey) (bool, time.Duration, error) {
	if t == nil || t.Store == nil {
		return false, 0, nil
	}
	state, err := t.Store.Get(ctx, key.Normalize())
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}
	now := t.now()
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return true, state.ResetAt.Sub(now), nil
	}
	return false, 0, nil
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	normalized := key.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = state.Key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key core.RateLimitKey) string {
	return strconv.FormatInt(key.InstallationID, 10) + "|" + key.Bucket
}

var _ StateStore = (*MemoryStateStore)(nil)

// Package drafts holds unpaid orders between gateway order creation and payment confirmation.
package drafts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quickprint/api/internal/domain"
)

const (
	// DefaultTTL is how long a draft waits for its payment callback.
	DefaultTTL = 30 * time.Minute
	// IDPrefix marks temporary order identifiers.
	IDPrefix = "temp_"
)

// ErrDraftNotFound is returned when a draft is missing or past its deadline.
var ErrDraftNotFound = errors.New("drafts: draft not found or expired")

// Store is the temporary order store used by the order lifecycle.
type Store interface {
	NewID() string
	Put(ctx context.Context, draft domain.Draft) (domain.Draft, error)
	Restore(ctx context.Context, draft domain.Draft) error
	Get(ctx context.Context, id string) (domain.Draft, error)
	RemoveIfPresent(ctx context.Context, id string) (domain.Draft, bool)
	Remove(ctx context.Context, id string)
}

// Option customises a MemoryStore.
type Option func(*MemoryStore)

// WithTTL overrides the draft lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides draft id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *MemoryStore) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithExpiryHook registers a callback invoked for every draft removed by the sweeper.
func WithExpiryHook(hook func(domain.Draft)) Option {
	return func(s *MemoryStore) {
		s.onExpire = hook
	}
}

// MemoryStore is a mutex-guarded map with per-entry deadlines. Expired entries are invisible to reads
// immediately and are reclaimed by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]domain.Draft
	ttl      time.Duration
	clock    func() time.Time
	newID    func() string
	onExpire func(domain.Draft)
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]domain.Draft),
		ttl:     DefaultTTL,
		clock:   time.Now,
		newID:   func() string { return IDPrefix + ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TTL reports the configured draft lifetime.
func (s *MemoryStore) TTL() time.Duration { return s.ttl }

// Put assigns a fresh id and deadline to draft and stores it. A caller-supplied ID is kept when it is not
// already in use, which lets callers embed the id in the gateway order before storing.
func (s *MemoryStore) Put(_ context.Context, draft domain.Draft) (domain.Draft, error) {
	now := s.clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(draft.ID)
	if id == "" {
		id = s.newID()
	}
	if existing, ok := s.entries[id]; ok && now.Before(existing.ExpiresAt) {
		return domain.Draft{}, errors.New("drafts: id already in use")
	}

	draft.ID = id
	if draft.Status == "" {
		draft.Status = domain.DraftStatusPaymentPending
	}
	draft.CreatedAt = now
	draft.ExpiresAt = now.Add(s.ttl)
	s.entries[id] = draft
	return draft, nil
}

// NewID returns an unused draft identifier without reserving it.
func (s *MemoryStore) NewID() string { return s.newID() }

// Restore puts back a draft previously claimed with RemoveIfPresent, keeping its original deadline. It is
// used when persisting the confirmed order fails so the client can retry verification.
func (s *MemoryStore) Restore(_ context.Context, draft domain.Draft) error {
	if strings.TrimSpace(draft.ID) == "" {
		return errors.New("drafts: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[draft.ID]; ok {
		return errors.New("drafts: id already in use")
	}
	s.entries[draft.ID] = draft
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Draft, error) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.entries[strings.TrimSpace(id)]
	if !ok || !now.Before(draft.ExpiresAt) {
		return domain.Draft{}, ErrDraftNotFound
	}
	return draft, nil
}

// RemoveIfPresent atomically removes and returns the draft. Exactly one concurrent caller observes true.
func (s *MemoryStore) RemoveIfPresent(_ context.Context, id string) (domain.Draft, bool) {
	id = strings.TrimSpace(id)
	now := s.clock()

	s.mu.Lock()
	draft, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return domain.Draft{}, false
	}
	if !now.Before(draft.ExpiresAt) {
		if s.onExpire != nil {
			s.onExpire(draft)
		}
		return domain.Draft{}, false
	}
	return draft, true
}

func (s *MemoryStore) Remove(_ context.Context, id string) {
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(id))
	s.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep deletes every entry whose deadline is at or before now.
func (s *MemoryStore) Sweep(now time.Time) int {
	var expired []domain.Draft

	s.mu.Lock()
	for id, draft := range s.entries {
		if !now.Before(draft.ExpiresAt) {
			delete(s.entries, id)
			expired = append(expired, draft)
		}
	}
	s.mu.Unlock()

	if s.onExpire != nil {
		for _, draft := range expired {
			s.onExpire(draft)
		}
	}
	return len(expired)
}

// Run sweeps on every tick until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(s.clock())
		}
	}
}

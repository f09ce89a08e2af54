package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const (
	DefaultTTL             = 15 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxRetries      = 3
	MaxBackups             = 2
)

var (
	ErrSessionNotFound   = errors.New("purchase session not found or expired")
	ErrInvalidTransition = errors.New("invalid session status transition")
)

// Options for Create; zero values take the store defaults
type Options struct {
	MaxRetries         int
	RequireHealthCheck bool
	TTL                time.Duration
}

// Stats describes the sessions currently held
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	Expired  int            `json:"expired"`
}

// Store keeps purchase sessions in memory. Start runs the periodic sweep
// until Stop is called.
type Store struct {
	sessions map[string]*PurchaseSession
	mu       sync.Mutex

	clock           utils.Clock
	ttl             time.Duration
	cleanupInterval time.Duration
	maxRetries      int
	allowRevival    bool
	logger          *utils.LogsManager

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewStore(cm *utils.ConfigManager, clock utils.Clock, logger *utils.LogsManager) *Store {
	if clock == nil {
		clock = utils.NewRealClock()
	}

	return &Store{
		sessions:        make(map[string]*PurchaseSession),
		clock:           clock,
		ttl:             cm.GetConfigDuration("session_ttl", DefaultTTL),
		cleanupInterval: cm.GetConfigDuration("session_cleanup_interval", DefaultCleanupInterval),
		maxRetries:      cm.GetConfigInt("session_max_retries", DefaultMaxRetries, 0, 100),
		allowRevival:    cm.GetConfigBool("session_allow_revival", true),
		logger:          logger,
	}
}

// Start launches the cleanup loop; calling it twice is a no-op
func (st *Store) Start() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.started {
		return
	}
	st.started = true
	st.ctx, st.cancel = context.WithCancel(context.Background())

	st.logger.Info(fmt.Sprintf("Starting session cleanup loop (interval: %v)", st.cleanupInterval), "session")

	st.wg.Add(1)
	go func(ctx context.Context) {
		defer st.wg.Done()

		ticker := time.NewTicker(st.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				st.logger.Info("Session cleanup loop stopped", "session")
				return
			case <-ticker.C:
				if evicted := st.Cleanup(); evicted > 0 {
					st.logger.Debug(fmt.Sprintf("Evicted %d expired sessions", evicted), "session")
				}
			}
		}
	}(st.ctx)
}

// Stop ends the cleanup loop and waits for it to exit
func (st *Store) Stop() {
	st.mu.Lock()
	if !st.started {
		st.mu.Unlock()
		return
	}
	st.started = false
	st.cancel()
	st.mu.Unlock()

	st.wg.Wait()
}

func (st *Store) expired(s *PurchaseSession, now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (st *Store) Create(identity string, opts Options) *PurchaseSession {
	now := st.clock.Now()

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = st.ttl
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = st.maxRetries
	}

	s := &PurchaseSession{
		ID:                 uuid.New().String(),
		Identity:           identity,
		Status:             StatusPreparing,
		MaxRetries:         maxRetries,
		RequireHealthCheck: opts.RequireHealthCheck,
		CreatedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Debug(fmt.Sprintf("Created purchase session %s (expires %s)", s.ID, s.ExpiresAt.Format(time.RFC3339)), "session")
	return s.clone()
}

// Get returns a copy of the session, evicting it if it has expired
func (st *Store) Get(id string) (*PurchaseSession, error) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, ErrSessionNotFound
	}

	return s.clone(), nil
}

// Update applies patch. An expired session is deleted instead, unless the
// patch only moves ExpiresAt and revival is allowed.
func (st *Store) Update(id string, patch Patch) (*PurchaseSession, error) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	if st.expired(s, now) {
		if !st.allowRevival || !patch.onlyExpiry() {
			delete(st.sessions, id)
			return nil, ErrSessionNotFound
		}
		st.logger.Info(fmt.Sprintf("Reviving expired purchase session %s", id), "session")
	}

	patch.apply(s)
	return s.clone(), nil
}

// Transition moves the session to status to and applies patch in one step.
// Expired sessions are never revived here.
func (st *Store) Transition(id string, to Status, patch Patch) (*PurchaseSession, error) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, ErrSessionNotFound
	}
	if !CanTransition(s.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}

	patch.Status = &to
	patch.apply(s)
	return s.clone(), nil
}

// Delete reports whether the session existed
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Cleanup evicts every expired session and returns how many were removed
func (st *Store) Cleanup() int {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (st *Store) Stats() Stats {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	stats := Stats{
		Total:    len(st.sessions),
		ByStatus: make(map[Status]int),
	}
	for _, s := range st.sessions {
		if st.expired(s, now) {
			stats.Expired++
			continue
		}
		stats.ByStatus[s.Status]++
	}
	return stats
}

// Len is the number of stored sessions, expired ones included
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

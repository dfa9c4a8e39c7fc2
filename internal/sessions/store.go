package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when looking up an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Persister saves and restores sessions across restarts. The store calls
// Save while the session lease is held, so saves for one session never race
// each other.
type Persister interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type entry struct {
	session *Session
	// lease is a one-slot semaphore. Holding the token means exclusive
	// access to the session, including during model and tool I/O that can
	// take seconds; a mutex held that long would be an abuse, a channel
	// acquire stays cancellable.
	lease chan struct{}
}

// Store keeps live sessions in memory with per-session mutual exclusion and
// an idle reaper. The store mutex only guards the map itself and is never
// held across I/O.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	persister   Persister
	idleTimeout time.Duration
	logger      *slog.Logger

	reapStop chan struct{}
	reapDone chan struct{}
}

// NewStore builds a store. persister may be nil for memory-only operation.
func NewStore(persister Persister, idleTimeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:     make(map[string]*entry),
		persister:   persister,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Acquire returns the session for id with an exclusive lease, creating it
// when id is empty or unknown. The caller must call release exactly once.
// Acquisition blocks while another request holds the session and honors
// context cancellation.
func (s *Store) Acquire(ctx context.Context, id string) (*Session, func(), error) {
	if id == "" {
		id = uuid.NewString()
	}
	e, err := s.entryFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	select {
	case e.lease <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("acquire session %s: %w", id, ctx.Err())
	}
	release := func() {
		e.session.LastActiveAt = time.Now()
		s.persist(e.session)
		<-e.lease
	}
	return e.session, release, nil
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// entryFor finds or creates the map entry, falling back to the persister
// for sessions evicted from memory.
func (s *Store) entryFor(ctx context.Context, id string) (*entry, error) {
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	var sess *Session
	if s.persister != nil {
		loaded, err := s.persister.Load(ctx, id)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
		sess = loaded
	}
	if sess == nil {
		sess = newSession(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another request may have created the entry while we were loading.
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	e := &entry{session: sess, lease: make(chan struct{}, 1)}
	s.entries[id] = e
	return e, nil
}

func (s *Store) persist(sess *Session) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.Save(ctx, sess); err != nil {
		s.logger.Warn("persist session failed", "session_id", sess.ID, "error", err)
	}
}

// StartReaper launches the idle sweep loop. Stop it with StopReaper.
func (s *Store) StartReaper(interval time.Duration) {
	if s.idleTimeout <= 0 || interval <= 0 {
		return
	}
	s.reapStop = make(chan struct{})
	s.reapDone = make(chan struct{})
	go func() {
		defer close(s.reapDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.reap()
			case <-s.reapStop:
				return
			}
		}
	}()
}

// StopReaper stops the sweep loop and waits for it to exit.
func (s *Store) StopReaper() {
	if s.reapStop == nil {
		return
	}
	close(s.reapStop)
	<-s.reapDone
	s.reapStop = nil
}

// reap evicts sessions idle past the timeout. Sessions currently leased are
// skipped; activity in flight will refresh their timestamp on release.
func (s *Store) reap() {
	cutoff := time.Now().Add(-s.idleTimeout)
	s.mu.Lock()
	var expired []*entry
	var ids []string
	for id, e := range s.entries {
		select {
		case e.lease <- struct{}{}:
		default:
			continue
		}
		if e.session.LastActiveAt.Before(cutoff) {
			delete(s.entries, id)
			expired = append(expired, e)
			ids = append(ids, id)
		}
		<-e.lease
	}
	s.mu.Unlock()

	for i, e := range expired {
		s.persist(e.session)
		s.logger.Debug("session reaped", "session_id", ids[i])
	}
}

// Close stops the reaper, flushes live sessions and closes the persister.
func (s *Store) Close() error {
	s.StopReaper()
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.entries))
	for _, e := range s.entries {
		sessions = append(sessions, e.session)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.persist(sess)
	}
	return s.persister.Close()
}

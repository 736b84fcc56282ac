package lock

import (
	"sync"
	"time"

	"github.com/marmos91/dittofs/pkg/metadata/errors"
)

// ============================================================================
// Session Tracking
// ============================================================================

// SessionRegistration describes one connected session for the purposes of
// lock accounting: how many locks it currently holds, and, if it
// disconnects, how long to keep those locks before the caller is expected
// to drain them via Core.DestroyByHandle for each of its open handles.
type SessionRegistration struct {
	// SessionID is the unique session identifier.
	SessionID string

	// AdapterType identifies which front end owns this session (e.g. "smb").
	AdapterType string

	// TTL is how long to keep locks after disconnect before the
	// OnSessionDisconnect callback fires (0 = immediate).
	TTL time.Duration

	RegisteredAt time.Time
	LastSeen     time.Time
	RemoteAddr   string

	// LockCount is the number of locks currently attributed to this session.
	LockCount int
}

// SessionRegistryConfig configures a SessionRegistry.
type SessionRegistryConfig struct {
	// MaxSessionsPerAdapter limits concurrent sessions by adapter type.
	MaxSessionsPerAdapter map[string]int `mapstructure:"max_sessions_per_adapter" yaml:"max_sessions_per_adapter"`

	// DefaultMaxSessions is the fallback limit (default: 10000).
	DefaultMaxSessions int `mapstructure:"default_max_sessions" yaml:"default_max_sessions"`

	// OnSessionDisconnect is called once a session's TTL has elapsed (or
	// immediately, for a zero TTL), so the caller can drain its handles.
	OnSessionDisconnect func(sessionID string)
}

// DefaultSessionRegistryConfig returns a config with sensible defaults.
func DefaultSessionRegistryConfig() SessionRegistryConfig {
	return SessionRegistryConfig{
		MaxSessionsPerAdapter: make(map[string]int),
		DefaultMaxSessions:    10000,
	}
}

// SessionRegistry tracks connected sessions so the caller (the component
// that actually owns sessions and dispatch, which the lock core never
// touches directly) knows when to drain a session's locks. It holds no
// reference to the lock core itself: the design keeps the session gate
// entirely outside the core, so a caller never holds a session-wide lock
// while calling into Acquire.
type SessionRegistry struct {
	mu sync.RWMutex

	sessions         map[string]*SessionRegistration
	config           SessionRegistryConfig
	disconnectTimers map[string]*time.Timer
	adapterCounts    map[string]int
}

// NewSessionRegistry creates a new session registry.
func NewSessionRegistry(config SessionRegistryConfig) *SessionRegistry {
	if config.DefaultMaxSessions == 0 {
		config.DefaultMaxSessions = 10000
	}
	if config.MaxSessionsPerAdapter == nil {
		config.MaxSessionsPerAdapter = make(map[string]int)
	}
	return &SessionRegistry{
		sessions:         make(map[string]*SessionRegistration),
		config:           config,
		disconnectTimers: make(map[string]*time.Timer),
		adapterCounts:    make(map[string]int),
	}
}

// Register registers a new session or refreshes an existing one.
func (sr *SessionRegistry) Register(sessionID, adapterType, remoteAddr string, ttl time.Duration) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if timer, hasTimer := sr.disconnectTimers[sessionID]; hasTimer {
		timer.Stop()
		delete(sr.disconnectTimers, sessionID)
	}

	if existing, ok := sr.sessions[sessionID]; ok {
		existing.LastSeen = time.Now()
		existing.RemoteAddr = remoteAddr
		return nil
	}

	limit := sr.config.DefaultMaxSessions
	if adapterLimit, ok := sr.config.MaxSessionsPerAdapter[adapterType]; ok {
		limit = adapterLimit
	}
	if sr.adapterCounts[adapterType] >= limit {
		return &errors.StoreError{
			Code:    errors.ErrConnectionLimitReached,
			Message: "session limit reached for adapter",
		}
	}

	now := time.Now()
	sr.sessions[sessionID] = &SessionRegistration{
		SessionID:    sessionID,
		AdapterType:  adapterType,
		TTL:          ttl,
		RegisteredAt: now,
		LastSeen:     now,
		RemoteAddr:   remoteAddr,
	}
	sr.adapterCounts[adapterType]++
	return nil
}

// Unregister removes a session, firing OnSessionDisconnect immediately or
// after its TTL elapses.
func (sr *SessionRegistry) Unregister(sessionID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	session, ok := sr.sessions[sessionID]
	if !ok {
		return
	}
	adapterType, ttl := session.AdapterType, session.TTL

	delete(sr.sessions, sessionID)
	if sr.adapterCounts[adapterType] > 0 {
		sr.adapterCounts[adapterType]--
	}

	if ttl == 0 {
		if sr.config.OnSessionDisconnect != nil {
			go sr.config.OnSessionDisconnect(sessionID)
		}
		return
	}

	timer := time.AfterFunc(ttl, func() {
		sr.mu.Lock()
		delete(sr.disconnectTimers, sessionID)
		sr.mu.Unlock()
		if sr.config.OnSessionDisconnect != nil {
			sr.config.OnSessionDisconnect(sessionID)
		}
	})
	sr.disconnectTimers[sessionID] = timer
}

// CancelDisconnect cancels a pending deferred disconnect, e.g. because the
// session reconnected within its TTL.
func (sr *SessionRegistry) CancelDisconnect(sessionID string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if timer, ok := sr.disconnectTimers[sessionID]; ok {
		timer.Stop()
		delete(sr.disconnectTimers, sessionID)
		return true
	}
	return false
}

// UpdateLastSeen refreshes a session's activity timestamp.
func (sr *SessionRegistry) UpdateLastSeen(sessionID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if session, ok := sr.sessions[sessionID]; ok {
		session.LastSeen = time.Now()
	}
}

// Get returns a copy of a session's registration, if it exists.
func (sr *SessionRegistry) Get(sessionID string) (*SessionRegistration, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	session, ok := sr.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *session
	return &cp, true
}

// List returns every session, optionally filtered by adapter type (empty
// string returns all of them).
func (sr *SessionRegistry) List(adapterType string) []*SessionRegistration {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	var out []*SessionRegistration
	for _, session := range sr.sessions {
		if adapterType == "" || session.AdapterType == adapterType {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out
}

// Count returns the number of sessions, optionally filtered by adapter type.
func (sr *SessionRegistry) Count(adapterType string) int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	if adapterType == "" {
		return len(sr.sessions)
	}
	return sr.adapterCounts[adapterType]
}

// IncrementLockCount bumps the accounted lock count for a session.
func (sr *SessionRegistry) IncrementLockCount(sessionID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if session, ok := sr.sessions[sessionID]; ok {
		session.LockCount++
	}
}

// DecrementLockCount lowers the accounted lock count for a session.
func (sr *SessionRegistry) DecrementLockCount(sessionID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if session, ok := sr.sessions[sessionID]; ok && session.LockCount > 0 {
		session.LockCount--
	}
}

// PendingDisconnectCount reports how many sessions are in their TTL grace
// window awaiting OnSessionDisconnect.
func (sr *SessionRegistry) PendingDisconnectCount() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.disconnectTimers)
}

// Close cancels every pending disconnect timer and clears all state.
func (sr *SessionRegistry) Close() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for sessionID, timer := range sr.disconnectTimers {
		timer.Stop()
		delete(sr.disconnectTimers, sessionID)
	}
	sr.sessions = make(map[string]*SessionRegistration)
	sr.adapterCounts = make(map[string]int)
}

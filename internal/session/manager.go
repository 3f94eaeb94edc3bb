// Package session owns the authoritative handle on the current authenticated
// session for one browser. The Manager is the only writer of the session
// snapshot; everything else observes it through Subscribe or reads it through
// Session().
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/identity"
	"github.com/propdesk/propdesk/internal/repository"
)

type EventType string

const (
	EventSignedIn  EventType = "signed_in"
	EventSignedOut EventType = "signed_out"
	EventRefreshed EventType = "refreshed"
)

// Event is delivered to subscribers on every session change. Session is nil
// for EventSignedOut.
type Event struct {
	Type    EventType       `json:"type"`
	Session *domain.Session `json:"-"`
}

// Config tunes retry and refresh behavior. Tests shrink the delays.
type Config struct {
	// RetryAttempts bounds how many times the initial restore and background
	// refresh try the provider before giving up and settling Unauthenticated.
	RetryAttempts int
	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration
	// RefreshLead is how far before expiry the background refresh fires.
	RefreshLead time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts: 3,
		RetryBase:     200 * time.Millisecond,
		RefreshLead:   30 * time.Second,
	}
}

// Manager holds the session for one browser. Lifecycle: construct, Init once,
// Close when evicted. Loading reports true until Init settles or the first
// change event lands, and never flips back to true afterwards, so consumers
// do not see a loading phase during background refresh.
type Manager struct {
	provider identity.Provider
	creds    repository.CredentialRepository
	cfg      Config

	mu           sync.RWMutex
	record       *domain.Credential
	current      *domain.Session
	epoch        uint64
	loading      bool
	subscribers  map[int]chan Event
	nextSubID    int
	refreshTimer *time.Timer
	closed       bool

	settleOnce sync.Once
}

func NewManager(record *domain.Credential, provider identity.Provider, creds repository.CredentialRepository, cfg Config) *Manager {
	if cfg.RetryAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		provider:    provider,
		creds:       creds,
		cfg:         cfg,
		record:      record,
		loading:     true,
		subscribers: make(map[int]chan Event),
	}
}

// ID is the browser-session identifier the manager is keyed by.
func (m *Manager) ID() uuid.UUID {
	return m.record.ID
}

// Init restores a persisted session, if any. Transport failures are retried
// with bounded exponential backoff and then absorbed: absence of a session is
// a normal outcome, so Init resolves to Unauthenticated rather than erroring.
func (m *Manager) Init(ctx context.Context) {
	m.mu.RLock()
	refreshToken := m.record.RefreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		m.settle()
		return
	}

	sess, err := m.withRetry(ctx, func() (*domain.Session, error) {
		return m.provider.RefreshSession(ctx, refreshToken)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			// Revoked or rotten refresh token; drop it so the next Init does
			// not retry a credential the provider already rejected.
			m.clearSession(ctx, false)
		}
		log.Printf("WARN [session.Init] restore failed, settling unauthenticated: %v", err)
		m.settle()
		return
	}

	m.setSession(ctx, sess, EventSignedIn)
}

// withRetry runs fn up to cfg.RetryAttempts times, doubling the delay between
// attempts, but only while the failure is transport-level. Other errors are
// terminal immediately.
func (m *Manager) withRetry(ctx context.Context, fn func() (*domain.Session, error)) (*domain.Session, error) {
	var lastErr error
	delay := m.cfg.RetryBase
	for attempt := 0; attempt < m.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		sess, err := fn()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Loading reports whether authentication status is still unknown. Callers
// must never read loading==true as "unauthenticated".
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Session returns the current snapshot, or nil when unauthenticated. A
// snapshot past its expiry is withheld: either the background refresh renews
// it or the session ends, but callers never act on expired credentials.
func (m *Manager) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Expired() {
		return nil
	}
	return m.current
}

// User returns the authenticated user, if any.
func (m *Manager) User() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Expired() {
		return domain.User{}, false
	}
	return m.current.User, true
}

// Abandoned reports whether nothing restorable remains: no live session and
// no stored refresh token. The registry discards the persisted credential of
// an abandoned manager on eviction.
func (m *Manager) Abandoned() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == nil && m.record.RefreshToken == ""
}

// Subscribe registers an observer. Events are delivered in order; a slow
// subscriber loses events rather than blocking the manager.
func (m *Manager) Subscribe() (int, <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Event, 16)
	m.subscribers[id] = ch
	return id, ch
}

func (m *Manager) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		delete(m.subscribers, id)
		close(ch)
	}
}

// SignIn exchanges credentials with the provider. The emitted change event is
// the authoritative update; the nil return only indicates the exchange was
// accepted.
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	sess, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	m.setSession(ctx, sess, EventSignedIn)
	return nil
}

// SignUp requests account creation with the display name stored in user
// metadata. A nil session with nil error means email confirmation is pending
// and the caller must present a "check your email" state.
func (m *Manager) SignUp(ctx context.Context, fullName, email, password, emailRedirectTo string) (*domain.Session, error) {
	metadata := map[string]any{domain.MetadataFullNameKey: fullName}
	sess, err := m.provider.SignUp(ctx, email, password, metadata, emailRedirectTo)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	m.setSession(ctx, sess, EventSignedIn)
	return sess, nil
}

// ResetPassword asks the provider to send a reset email. It succeeds whether
// or not the address is registered, so callers cannot probe for accounts.
func (m *Manager) ResetPassword(ctx context.Context, email, redirectTo string) error {
	return m.provider.SendPasswordReset(ctx, email, redirectTo)
}

// SignOut invalidates the local session and best-effort revokes it at the
// provider. Calling it with no active session is a no-op.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if current == nil {
		m.settle()
		return nil
	}

	m.clearSession(ctx, true)

	if err := m.provider.SignOut(ctx, current.AccessToken); err != nil {
		// Local state is already cleared; provider-side revocation failing
		// only means the token dies at expiry instead.
		log.Printf("WARN [session.SignOut] provider revocation failed: %v", err)
	}
	return nil
}

// SignInWithProvider starts a redirect-based OAuth flow and returns the
// consent-screen URL for the caller to navigate to. It never silently leaves
// the caller on the current page: a missing URL is an error.
func (m *Manager) SignInWithProvider(providerName, redirectTo string) (string, error) {
	u, err := m.provider.AuthorizeURL(providerName, redirectTo)
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", domain.ErrOAuthInitiationFailed
	}
	return u, nil
}

// CompleteOAuth exchanges the callback code and adopts the resulting session,
// finishing a flow that crossed a full-page navigation boundary.
func (m *Manager) CompleteOAuth(ctx context.Context, code string) (*domain.Session, error) {
	sess, err := m.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	m.setSession(ctx, sess, EventSignedIn)
	return sess, nil
}

// setSession atomically replaces the snapshot, settles the loading phase,
// persists the refresh credential, re-arms the refresh timer, and notifies
// subscribers.
func (m *Manager) setSession(ctx context.Context, sess *domain.Session, event EventType) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.storeSessionLocked(ctx, sess, event)
}

// setSessionAt is the gated variant used by the background refresh: the
// snapshot applies only if no sign-out happened since epoch was read. A
// refresh already in flight when the user signed out must drop its result
// instead of resurrecting the session.
func (m *Manager) setSessionAt(ctx context.Context, sess *domain.Session, event EventType, epoch uint64) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.storeSessionLocked(ctx, sess, event)
}

// storeSessionLocked is entered with the lock held and releases it.
func (m *Manager) storeSessionLocked(ctx context.Context, sess *domain.Session, event EventType) {
	m.current = sess
	m.record.RefreshToken = sess.RefreshToken
	userID := sess.User.ID
	m.record.UserID = &userID
	m.record.UserEmail = sess.User.Email
	m.record.UserMetadata = sess.User.Metadata
	record := *m.record
	m.scheduleRefreshLocked(sess)
	m.emitLocked(Event{Type: event, Session: sess})
	m.mu.Unlock()

	m.settle()

	if err := m.creds.Save(ctx, &record); err != nil {
		log.Printf("ERROR [session.setSession] persisting credential: %v", err)
	}
}

func (m *Manager) clearSession(ctx context.Context, emit bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.epoch++
	m.record.RefreshToken = ""
	m.record.UserID = nil
	m.record.UserEmail = ""
	m.record.UserMetadata = nil
	record := *m.record
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	if emit {
		m.emitLocked(Event{Type: EventSignedOut})
	}
	m.mu.Unlock()

	m.settle()

	if err := m.creds.Save(ctx, &record); err != nil {
		log.Printf("ERROR [session.clearSession] persisting credential: %v", err)
	}
}

func (m *Manager) settle() {
	m.settleOnce.Do(func() {
		m.mu.Lock()
		m.loading = false
		m.mu.Unlock()
	})
}

func (m *Manager) emitLocked(ev Event) {
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// drop for slow subscribers
		}
	}
}

// scheduleRefreshLocked arms a timer that renews the session ahead of expiry.
// Renewal updates the snapshot in place without re-entering the loading
// phase, so protected views never flash a redirect during refresh.
func (m *Manager) scheduleRefreshLocked(sess *domain.Session) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}
	if sess.RefreshToken == "" || sess.ExpiresAt.IsZero() {
		return
	}
	lead := time.Until(sess.ExpiresAt) - m.cfg.RefreshLead
	if lead < time.Second {
		lead = time.Second
	}
	m.refreshTimer = time.AfterFunc(lead, m.refresh)
}

func (m *Manager) refresh() {
	m.mu.RLock()
	closed := m.closed
	epoch := m.epoch
	var refreshToken string
	if m.current != nil {
		refreshToken = m.current.RefreshToken
	}
	m.mu.RUnlock()

	if closed || refreshToken == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := m.withRetry(ctx, func() (*domain.Session, error) {
		return m.provider.RefreshSession(ctx, refreshToken)
	})
	if err != nil {
		m.mu.RLock()
		stale := epoch != m.epoch
		m.mu.RUnlock()
		if stale {
			// the user signed out while this renewal was in flight
			return
		}
		// The refresh token is gone or the provider stayed down past the
		// retry ceiling; either way the session is over.
		log.Printf("WARN [session.refresh] renewal failed, signing out: %v", err)
		m.clearSession(ctx, true)
		return
	}

	m.setSessionAt(ctx, sess, EventRefreshed, epoch)
}

// Close disposes the manager: the refresh timer stops and all subscriber
// channels close. The persisted credential is left intact so a later request
// can reconstruct the session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
}

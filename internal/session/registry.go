package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/identity"
	"github.com/propdesk/propdesk/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// CookieName carries the browser-session credential as "id.secret". Only the
// bcrypt hash of the secret is stored at rest.
const CookieName = "pd_session"

type entry struct {
	mgr      *Manager
	secret   string
	lastSeen time.Time
}

// Registry owns one Manager per browser session and evicts idle ones. It is
// the only component that constructs managers.
type Registry struct {
	provider identity.Provider
	creds    repository.CredentialRepository
	cfg      Config
	idle     time.Duration
	secure   bool

	mu       sync.Mutex
	managers map[uuid.UUID]*entry

	stop chan struct{}
	done chan struct{}
}

func NewRegistry(provider identity.Provider, creds repository.CredentialRepository, cfg Config, idle time.Duration, secureCookies bool) *Registry {
	return &Registry{
		provider: provider,
		creds:    creds,
		cfg:      cfg,
		idle:     idle,
		secure:   secureCookies,
		managers: make(map[uuid.UUID]*entry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run evicts managers that have not been touched within the idle window.
// It blocks until Stop is called.
func (r *Registry) Run() {
	defer close(r.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.mu.Lock()
			for id, e := range r.managers {
				e.mgr.Close()
				delete(r.managers, id)
			}
			r.mu.Unlock()
			return
		case <-ticker.C:
			r.evictIdle(time.Now().Add(-r.idle))
		}
	}
}

// evictIdle closes managers not touched since cutoff. Credentials with
// nothing left to restore are deleted; signed-in ones stay so a returning
// browser can reconstruct its session.
func (r *Registry) evictIdle(cutoff time.Time) {
	var abandoned []uuid.UUID

	r.mu.Lock()
	for id, e := range r.managers {
		if e.lastSeen.Before(cutoff) {
			if e.mgr.Abandoned() {
				abandoned = append(abandoned, id)
			}
			e.mgr.Close()
			delete(r.managers, id)
		}
	}
	r.mu.Unlock()

	for _, id := range abandoned {
		if err := r.creds.Delete(context.Background(), id); err != nil {
			log.Printf("ERROR [session.Registry] deleting abandoned credential: %v", err)
		}
	}
}

func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

// Manager returns the live manager for the request's session cookie,
// reconstructing it from the persisted credential when the server has not
// seen this browser since restart. Returns nil when there is no (valid)
// cookie; callers treat nil as a settled Unauthenticated state.
func (r *Registry) Manager(req *http.Request) *Manager {
	id, secret, ok := parseCookie(req)
	if !ok {
		return nil
	}

	r.mu.Lock()
	if e, found := r.managers[id]; found {
		defer r.mu.Unlock()
		if subtle.ConstantTimeCompare([]byte(e.secret), []byte(secret)) != 1 {
			return nil
		}
		e.lastSeen = time.Now()
		return e.mgr
	}
	r.mu.Unlock()

	record, err := r.creds.Get(req.Context(), id)
	if err != nil {
		log.Printf("ERROR [session.Registry] loading credential: %v", err)
		return nil
	}
	if record == nil {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(record.SecretHash), []byte(secret)) != nil {
		return nil
	}

	mgr := NewManager(record, r.provider, r.creds, r.cfg)

	r.mu.Lock()
	// another request may have reconstructed it meanwhile
	if e, found := r.managers[id]; found {
		r.mu.Unlock()
		mgr.Close()
		if subtle.ConstantTimeCompare([]byte(e.secret), []byte(secret)) != 1 {
			return nil
		}
		return e.mgr
	}
	r.managers[id] = &entry{mgr: mgr, secret: secret, lastSeen: time.Now()}
	r.mu.Unlock()

	go mgr.Init(context.Background())
	return mgr
}

// GetOrCreate returns the request's manager, minting a fresh browser session
// and setting its cookie when none exists. Used by the auth endpoints; plain
// page views never create state.
func (r *Registry) GetOrCreate(w http.ResponseWriter, req *http.Request) (*Manager, error) {
	if mgr := r.Manager(req); mgr != nil {
		return mgr, nil
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, err
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	record := &domain.Credential{ID: uuid.New(), SecretHash: string(hash)}
	if err := r.creds.Save(req.Context(), record); err != nil {
		return nil, err
	}

	mgr := NewManager(record, r.provider, r.creds, r.cfg)
	mgr.settle() // fresh session, nothing to restore

	r.mu.Lock()
	r.managers[record.ID] = &entry{mgr: mgr, secret: secret, lastSeen: time.Now()}
	r.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    record.ID.String() + "." + secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return mgr, nil
}

func parseCookie(req *http.Request) (uuid.UUID, string, bool) {
	c, err := req.Cookie(CookieName)
	if err != nil {
		return uuid.Nil, "", false
	}
	parts := strings.SplitN(c.Value, ".", 2)
	if len(parts) != 2 || parts[1] == "" {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, parts[1], true
}

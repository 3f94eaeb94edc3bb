// Package testutil holds the fakes and fixtures the session core is tested
// against: an in-process scripted identity provider and in-memory
// repositories, so tests exercise real retry, settling and provisioning
// behavior without a network or database.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/repository"
)

// FakeProvider is a scripted identity provider. Tests set the outcome fields;
// call counters let tests assert how often the manager retried.
type FakeProvider struct {
	mu sync.Mutex

	SignInSession *domain.Session
	SignInErr     error

	SignUpSession *domain.Session
	SignUpErr     error

	ResetErr error

	SignOutErr error

	RefreshSession_ *domain.Session
	RefreshErr      error
	// RefreshErrFirst fails this many Refresh calls before RefreshSession_
	// succeeds, simulating a provider recovering mid-retry.
	RefreshErrFirst int
	// RefreshGate, when set, blocks Refresh until the channel is closed,
	// holding a restoring manager in its loading phase.
	RefreshGate chan struct{}
	// RefreshStarted, when set, receives a signal as each Refresh call
	// enters, before it parks on RefreshGate.
	RefreshStarted chan struct{}

	ExchangeSession *domain.Session
	ExchangeErr     error

	AuthorizeResult string
	AuthorizeErr    error

	SignInCalls   int
	SignUpCalls   int
	ResetCalls    int
	SignOutCalls  int
	RefreshCalls  int
	ExchangeCalls int
}

func (f *FakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignInCalls++
	return f.SignInSession, f.SignInErr
}

func (f *FakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any, emailRedirectTo string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignUpCalls++
	return f.SignUpSession, f.SignUpErr
}

func (f *FakeProvider) SendPasswordReset(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResetCalls++
	return f.ResetErr
}

func (f *FakeProvider) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SignOutCalls++
	return f.SignOutErr
}

func (f *FakeProvider) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	f.mu.Lock()
	gate := f.RefreshGate
	started := f.RefreshStarted
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	if f.RefreshErrFirst > 0 {
		f.RefreshErrFirst--
		return nil, domain.ErrProviderUnavailable
	}
	return f.RefreshSession_, f.RefreshErr
}

func (f *FakeProvider) ExchangeCode(ctx context.Context, code string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExchangeCalls++
	return f.ExchangeSession, f.ExchangeErr
}

func (f *FakeProvider) AuthorizeURL(provider, redirectTo string) (string, error) {
	return f.AuthorizeResult, f.AuthorizeErr
}

// MemCredentialRepo is an in-memory CredentialRepository.
type MemCredentialRepo struct {
	mu    sync.Mutex
	creds map[uuid.UUID]domain.Credential
}

func NewMemCredentialRepo() *MemCredentialRepo {
	return &MemCredentialRepo{creds: make(map[uuid.UUID]domain.Credential)}
}

func (r *MemCredentialRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.creds[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

func (r *MemCredentialRepo) Save(ctx context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.ID] = *cred
	return nil
}

func (r *MemCredentialRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, id)
	return nil
}

// MemProfileRepo is an in-memory ProfileRepository enforcing the same
// row-level ownership rule as the postgres implementation. Tests can force
// outcomes with DenyReads and FailInserts.
type MemProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]domain.Profile

	DenyReads   bool
	FailReads   bool
	FailInserts bool

	ReadCalls   int
	InsertCalls int
	UpdateCalls int
}

func NewMemProfileRepo() *MemProfileRepo {
	return &MemProfileRepo{profiles: make(map[uuid.UUID]domain.Profile)}
}

func (r *MemProfileRepo) Read(ctx context.Context, callerID, id uuid.UUID) (*domain.Profile, repository.ProfileReadOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReadCalls++
	if r.FailReads {
		return nil, repository.ProfileTransportError, context.DeadlineExceeded
	}
	if r.DenyReads || callerID != id {
		return nil, repository.ProfileDenied, nil
	}
	if p, ok := r.profiles[id]; ok {
		copied := p
		return &copied, repository.ProfileFound, nil
	}
	return nil, repository.ProfileNotProvisioned, nil
}

func (r *MemProfileRepo) Insert(ctx context.Context, callerID uuid.UUID, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InsertCalls++
	if r.FailInserts {
		return domain.ErrPersistence
	}
	if callerID != profile.ID {
		return domain.ErrUnauthorized
	}
	if _, exists := r.profiles[profile.ID]; exists {
		return nil // conflict-tolerant, like ON CONFLICT DO NOTHING
	}
	r.profiles[profile.ID] = *profile
	return nil
}

func (r *MemProfileRepo) Update(ctx context.Context, callerID, id uuid.UUID, fields domain.ProfileFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdateCalls++
	if callerID != id {
		return domain.ErrUnauthorized
	}
	p, ok := r.profiles[id]
	if !ok {
		return domain.ErrPersistence
	}
	p.FullName = fields.FullName
	p.Email = fields.Email
	p.Phone = fields.Phone
	r.profiles[id] = p
	return nil
}

// Rows returns how many profile rows are persisted.
func (r *MemProfileRepo) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

// Package profile guarantees a readable Profile exists for the current user
// once one is requested, absorbing the propagation lag between identity
// creation and profile-row visibility.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/propdesk/propdesk/internal/domain"
	"github.com/propdesk/propdesk/internal/repository"
)

// SessionSource is the read-only view of the session manager the provisioner
// needs. *session.Manager satisfies it.
type SessionSource interface {
	Session() *domain.Session
	Loading() bool
}

const (
	readyAttempts = 3
	readyBackoff  = 500 * time.Millisecond
)

type Provisioner struct {
	source  SessionSource
	repo    repository.ProfileRepository
	backoff time.Duration
}

func NewProvisioner(source SessionSource, repo repository.ProfileRepository) *Provisioner {
	return &Provisioner{source: source, repo: repo, backoff: readyBackoff}
}

// LoadOrCreate returns the profile for user, provisioning it on first
// read-miss. A read denied by ownership rules or answered with "no such row"
// both mean "not yet provisioned" and trigger exactly one create; if even the
// create fails, a transient unpersisted profile built from the user record is
// returned so the caller always has something to render. The transient copy
// is never written back.
func (p *Provisioner) LoadOrCreate(ctx context.Context, user domain.User) (*domain.Profile, error) {
	sess, err := p.awaitSession(ctx)
	if err != nil {
		return nil, err
	}

	prof, outcome, readErr := p.repo.Read(ctx, sess.User.ID, user.ID)
	switch outcome {
	case repository.ProfileFound:
		return prof, nil

	case repository.ProfileNotProvisioned, repository.ProfileDenied:
		created := domain.DefaultProfile(user)
		if err := p.repo.Insert(ctx, sess.User.ID, created); err != nil {
			log.Printf("WARN [profile.LoadOrCreate] provisioning failed, using transient profile: %v", err)
			return domain.DefaultProfile(user), nil
		}
		return created, nil

	default: // repository.ProfileTransportError
		log.Printf("WARN [profile.LoadOrCreate] read failed, using transient profile: %v", readErr)
		return domain.DefaultProfile(user), nil
	}
}

// awaitSession waits for the session to attach to the request context,
// retrying a bounded number of times. At app start a profile read can race
// session restoration; this absorbs that window.
func (p *Provisioner) awaitSession(ctx context.Context) (*domain.Session, error) {
	for attempt := 0; attempt < readyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoff):
			}
		}
		if p.source.Loading() {
			continue
		}
		if sess := p.source.Session(); sess != nil {
			return sess, nil
		}
	}
	return nil, domain.ErrUnauthorized
}

// Save writes the editable fields back. Only the owning user may write their
// row; the caller keeps a pristine copy to roll back on failure.
func (p *Provisioner) Save(ctx context.Context, prof *domain.Profile) error {
	sess := p.source.Session()
	if sess == nil || sess.User.ID != prof.ID {
		return domain.ErrUnauthorized
	}

	fields := domain.ProfileFields{
		FullName: prof.FullName,
		Email:    prof.Email,
		Phone:    prof.Phone,
	}
	if err := p.repo.Update(ctx, sess.User.ID, prof.ID, fields); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

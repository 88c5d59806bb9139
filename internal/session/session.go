// Package session determines which logged-in graphical user should
// receive desktop integration.
package session

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ErrNoActiveSession means no detection strategy produced a user
// identity. Non-fatal; the caller aborts integration for this event.
var ErrNoActiveSession = errors.New("no active session")

// Session is the graphical session eligible for UI integration,
// re-resolved on every event and never persisted. Display and
// BusAddress are advisory metadata for a companion launcher, derived
// deterministically from the resolved user.
type Session struct {
	User       string
	UID        int
	GID        int
	Home       string
	Display    string
	BusAddress string
}

// Provider is one active-user detection strategy. An empty username
// with a nil error means the strategy found nothing and the next one
// should be tried.
type Provider interface {
	Name() string
	ActiveUser() (string, error)
}

// Resolver tries an ordered cascade of Providers and fills in the
// account details of the first user identity found.
type Resolver struct {
	providers []Provider
	display   string
	lookup    func(string) (*user.User, error)
}

func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		display:   ":0",
		lookup:    user.Lookup,
	}
}

func (r *Resolver) Resolve() (Session, error) {
	for _, p := range r.providers {
		name, err := p.ActiveUser()
		if err != nil {
			log.Debug().Err(err).Str("provider", p.Name()).Msg("session provider failed")
			continue
		}
		if name == "" {
			continue
		}
		sess, err := r.sessionFor(name)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Str("user", name).
				Msg("resolved user has no account entry")
			continue
		}
		log.Debug().Str("provider", p.Name()).Str("user", sess.User).Msg("active session resolved")
		return sess, nil
	}
	return Session{}, ErrNoActiveSession
}

func (r *Resolver) sessionFor(name string) (Session, error) {
	u, err := r.lookup(name)
	if err != nil {
		return Session{}, fmt.Errorf("lookup user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Session{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Session{}, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return Session{
		User:       u.Username,
		UID:        uid,
		GID:        gid,
		Home:       u.HomeDir,
		Display:    r.display,
		BusAddress: fmt.Sprintf("unix:path=/run/user/%d/bus", uid),
	}, nil
}

package session

import (
	"errors"
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name string
	user string
	err  error
}

func (f fakeProvider) Name() string                { return f.name }
func (f fakeProvider) ActiveUser() (string, error) { return f.user, f.err }

func fakeLookup(name string) (*user.User, error) {
	if name != "alice" {
		return nil, user.UnknownUserError(name)
	}
	return &user.User{
		Username: "alice",
		Uid:      "1000",
		Gid:      "1000",
		HomeDir:  "/home/alice",
	}, nil
}

func newTestResolver(providers ...Provider) *Resolver {
	r := NewResolver(providers...)
	r.lookup = fakeLookup
	return r
}

func TestResolveCascadeOrder(t *testing.T) {
	t.Parallel()

	r := newTestResolver(
		fakeProvider{name: "first"},
		fakeProvider{name: "second", user: "alice"},
		fakeProvider{name: "third", user: "bob"},
	)

	sess, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.User)
	assert.Equal(t, 1000, sess.UID)
	assert.Equal(t, 1000, sess.GID)
	assert.Equal(t, "/home/alice", sess.Home)
	assert.Equal(t, ":0", sess.Display)
	assert.Equal(t, "unix:path=/run/user/1000/bus", sess.BusAddress)
}

func TestResolveNoActiveSession(t *testing.T) {
	t.Parallel()

	r := newTestResolver(fakeProvider{name: "first"}, fakeProvider{name: "second"})

	_, err := r.Resolve()
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestResolveSkipsFailingProvider(t *testing.T) {
	t.Parallel()

	r := newTestResolver(
		fakeProvider{name: "broken", err: errors.New("bus unavailable")},
		fakeProvider{name: "working", user: "alice"},
	)

	sess, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.User)
}

func TestResolveSkipsUnknownAccount(t *testing.T) {
	t.Parallel()

	r := newTestResolver(
		fakeProvider{name: "stale", user: "ghost"},
		fakeProvider{name: "working", user: "alice"},
	)

	sess, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.User)
}

func TestResolveNoProviders(t *testing.T) {
	t.Parallel()

	_, err := newTestResolver().Resolve()
	require.ErrorIs(t, err, ErrNoActiveSession)
}

const whoOutput = `bob      pts/0        2026-08-27 08:12 (10.0.0.5)
alice    tty7         2026-08-27 09:00 (:0)
carol    pts/1        2026-08-27 09:30 (:1)
`

func TestParseWho(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "alice", parseWho(whoOutput, ":0"))
	assert.Equal(t, "carol", parseWho(whoOutput, ":1"))
	assert.Equal(t, "", parseWho(whoOutput, ":2"))
	assert.Equal(t, "", parseWho("", ":0"))
}

func TestParseWhoDisplayAsTTY(t *testing.T) {
	t.Parallel()

	// Some systems register the X display in the tty field instead.
	out := "alice    :0           2026-08-27 09:00\n"
	assert.Equal(t, "alice", parseWho(out, ":0"))
}

func TestWhoProvider(t *testing.T) {
	t.Parallel()

	p := &WhoProvider{
		display: ":0",
		run:     func() ([]byte, error) { return []byte(whoOutput), nil },
	}
	name, err := p.ActiveUser()
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
}

func TestWhoProviderCommandFailure(t *testing.T) {
	t.Parallel()

	p := &WhoProvider{
		display: ":0",
		run:     func() ([]byte, error) { return nil, errors.New("exec: who: not found") },
	}
	_, err := p.ActiveUser()
	require.Error(t, err)
}

func TestProcessProvider(t *testing.T) {
	t.Parallel()

	name, err := ProcessProvider{}.ActiveUser()
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}

package hotplug

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eikenb/usb-appsync/internal/desktop"
	"github.com/eikenb/usb-appsync/internal/locate"
	"github.com/eikenb/usb-appsync/internal/mounts"
	"github.com/eikenb/usb-appsync/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeMounts resolves immediately, fails, or blocks until cancelled.
type fakeMounts struct {
	rec   mounts.Record
	err   error
	block bool
}

func (f *fakeMounts) Resolve(ctx context.Context, deviceID string) (mounts.Record, error) {
	if f.block {
		<-ctx.Done()
		return mounts.Record{}, fmt.Errorf("resolve mount for %s: %w", deviceID, ctx.Err())
	}
	if f.err != nil {
		return mounts.Record{}, f.err
	}
	rec := f.rec
	rec.DeviceID = deviceID
	return rec, nil
}

type fakeSessions struct {
	sess session.Session
	err  error
}

func (f *fakeSessions) Resolve() (session.Session, error) {
	return f.sess, f.err
}

var alice = session.Session{
	User: "alice",
	UID:  1000,
	GID:  1000,
	Home: "/home/alice",
}

var entryOpts = desktop.Options{
	Name:     "Portable App",
	Comment:  "test",
	Icon:     "drive-removable-media",
	FileName: "usb-app.desktop",
}

type fixture struct {
	coord *Coordinator
	fs    afero.Fs
	sync  *desktop.Synchronizer
}

// newFixture wires a coordinator with a real locator and a real
// synchronizer on a memory filesystem, faking only the OS queries.
func newFixture(t *testing.T, m MountResolver, s SessionResolver) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	sync := desktop.NewSynchronizer(fs, entryOpts)
	coord := New(m, locate.New(".app", 2), s, sync)
	return &fixture{coord: coord, fs: fs, sync: sync}
}

func (f *fixture) entryExists(t *testing.T) bool {
	t.Helper()
	exists, err := afero.Exists(f.fs, f.sync.EntryPath(alice))
	require.NoError(t, err)
	return exists
}

func volumeWith(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	}
	return dir
}

func TestAddIntegratesDevice(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	f := newFixture(t,
		&fakeMounts{rec: mounts.Record{Path: vol, Filesystem: mounts.FSFat32}},
		&fakeSessions{sess: alice},
	)

	f.coord.Handle(context.Background(), Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Integrated, f.coord.DeviceState("dev1"))
	content, err := afero.ReadFile(f.fs, f.sync.EntryPath(alice))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Exec="+filepath.Join(vol, "portable.app"))
}

func TestAddNoCandidateAborts(t *testing.T) {
	vol := volumeWith(t) // empty volume
	f := newFixture(t,
		&fakeMounts{rec: mounts.Record{Path: vol}},
		&fakeSessions{sess: alice},
	)

	f.coord.Handle(context.Background(), Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Aborted, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

func TestAddNoSessionAborts(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	f := newFixture(t,
		&fakeMounts{rec: mounts.Record{Path: vol}},
		&fakeSessions{err: session.ErrNoActiveSession},
	)

	f.coord.Handle(context.Background(), Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Aborted, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

func TestAddMountTimeoutAborts(t *testing.T) {
	f := newFixture(t,
		&fakeMounts{err: fmt.Errorf("device dev1: %w", mounts.ErrMountTimeout)},
		&fakeSessions{sess: alice},
	)

	f.coord.Handle(context.Background(), Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Aborted, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

func TestRemoveWithoutEntry(t *testing.T) {
	f := newFixture(t, &fakeMounts{}, &fakeSessions{sess: alice})

	f.coord.Handle(context.Background(), Event{Kind: Remove, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Idle, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

func TestRemoveTwiceIdempotent(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	f := newFixture(t,
		&fakeMounts{rec: mounts.Record{Path: vol}},
		&fakeSessions{sess: alice},
	)
	ctx := context.Background()

	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Handle(ctx, Event{Kind: Remove, DeviceID: "dev1"})
	f.coord.Handle(ctx, Event{Kind: Remove, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Idle, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

// An Add still polling for its mount when the Remove arrives must be
// cancelled and never write an entry.
func TestRemoveCancelsInflightAdd(t *testing.T) {
	f := newFixture(t, &fakeMounts{block: true}, &fakeSessions{sess: alice})
	ctx := context.Background()

	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Handle(ctx, Event{Kind: Remove, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Idle, f.coord.DeviceState("dev1"))
	assert.False(t, f.entryExists(t))
}

func TestReAddAfterIntegrationRefreshes(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	m := &fakeMounts{rec: mounts.Record{Path: vol}}
	f := newFixture(t, m, &fakeSessions{sess: alice})
	ctx := context.Background()

	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev1"})
	f.coord.Close()

	assert.Equal(t, Integrated, f.coord.DeviceState("dev1"))
	assert.True(t, f.entryExists(t))
}

// A device stuck resolving must not hold up handling for a different
// device.
func TestDistinctDevicesRunIndependently(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	release := make(chan struct{})
	m := &gateMounts{good: mounts.Record{Path: vol}, gate: release}
	f := newFixture(t, m, &fakeSessions{sess: alice})
	ctx := context.Background()

	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "slow"})
	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev2"})

	require.Eventually(t, func() bool {
		return f.coord.DeviceState("dev2") == Integrated
	}, time.Second, 5*time.Millisecond)

	close(release)
	f.coord.Close()
	assert.Equal(t, Integrated, f.coord.DeviceState("slow"))
}

// gateMounts holds the device named "slow" until gate closes and
// resolves everything else immediately.
type gateMounts struct {
	good mounts.Record
	gate chan struct{}
}

func (g *gateMounts) Resolve(_ context.Context, deviceID string) (mounts.Record, error) {
	if deviceID == "slow" {
		<-g.gate
	}
	rec := g.good
	rec.DeviceID = deviceID
	return rec, nil
}

func TestOneDeviceFailureDoesNotBlockOthers(t *testing.T) {
	vol := volumeWith(t, "portable.app")
	m := &switchMounts{good: mounts.Record{Path: vol}}
	f := newFixture(t, m, &fakeSessions{sess: alice})
	ctx := context.Background()

	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "broken"})
	f.coord.Handle(ctx, Event{Kind: Add, DeviceID: "dev2"})
	f.coord.Close()

	assert.Equal(t, Aborted, f.coord.DeviceState("broken"))
	assert.Equal(t, Integrated, f.coord.DeviceState("dev2"))
}

// switchMounts times out for the device named "broken" and resolves
// for everything else.
type switchMounts struct {
	good mounts.Record
}

func (s *switchMounts) Resolve(_ context.Context, deviceID string) (mounts.Record, error) {
	if deviceID == "broken" {
		return mounts.Record{}, fmt.Errorf("device %s: %w", deviceID, mounts.ErrMountTimeout)
	}
	rec := s.good
	rec.DeviceID = deviceID
	return rec, nil
}

func TestHandleAfterCloseDropsEvent(t *testing.T) {
	f := newFixture(t, &fakeMounts{}, &fakeSessions{sess: alice})
	f.coord.Close()

	// Must not panic or deadlock.
	f.coord.Handle(context.Background(), Event{Kind: Add, DeviceID: "dev1"})
	assert.Equal(t, Idle, f.coord.DeviceState("dev1"))
}

// Closing while the event source is still delivering must never send
// into a just-closed queue; late events are dropped, not panicked on.
func TestHandleRacingCloseDropsLateEvents(t *testing.T) {
	f := newFixture(t, &fakeMounts{}, &fakeSessions{sess: alice})
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			f.coord.Handle(ctx, Event{Kind: Add, DeviceID: fmt.Sprintf("dev%d", i%4)})
		}
	}()

	time.Sleep(5 * time.Millisecond)
	f.coord.Close()
	close(stop)
	wg.Wait()
}

func TestCloseTwice(t *testing.T) {
	f := newFixture(t, &fakeMounts{}, &fakeSessions{sess: alice})
	f.coord.Close()
	f.coord.Close()
}

func TestKindAndStateStrings(t *testing.T) {
	assert.Equal(t, "add", Add.String())
	assert.Equal(t, "remove", Remove.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "resolving", Resolving.String())
	assert.Equal(t, "integrated", Integrated.String())
	assert.Equal(t, "aborted", Aborted.String())
}

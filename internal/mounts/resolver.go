package mounts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrMountTimeout means the partition never appeared in the mount table
// within the attempt budget. The enclosing event is abandoned, not
// retried.
var ErrMountTimeout = errors.New("mount timeout")

// Resolver polls a mount Table until a removable mount appears. The
// clock is injected so tests can drive the poll loop with a fake.
type Resolver struct {
	table    Table
	clock    clockwork.Clock
	interval time.Duration
	attempts int
}

func NewResolver(table Table, clock clockwork.Clock, interval time.Duration, attempts int) *Resolver {
	return &Resolver{
		table:    table,
		clock:    clock,
		interval: interval,
		attempts: attempts,
	}
}

// Resolve blocks until the mount table shows a removable mount, the
// attempt budget runs out, or ctx is cancelled. The mount propagation
// delay after a udev add event is why this polls instead of reading
// once.
func (r *Resolver) Resolve(ctx context.Context, deviceID string) (Record, error) {
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Record{}, fmt.Errorf("resolve mount for %s: %w", deviceID, ctx.Err())
			case <-r.clock.After(r.interval):
			}
		}

		entries, err := r.table.Mounts()
		if err != nil {
			log.Warn().Err(err).Str("device_id", deviceID).Msg("mount table query failed")
			continue
		}
		for _, e := range entries {
			if e.Path == "" || !filepath.IsAbs(e.Path) {
				continue
			}
			log.Debug().
				Str("device_id", deviceID).
				Str("mount_path", e.Path).
				Str("filesystem", string(e.Filesystem)).
				Int("attempt", attempt+1).
				Msg("mount resolved")
			return Record{
				DeviceID:   deviceID,
				Path:       e.Path,
				Filesystem: e.Filesystem,
			}, nil
		}
	}
	return Record{}, fmt.Errorf("device %s: %w", deviceID, ErrMountTimeout)
}

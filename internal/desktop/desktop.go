// Package desktop keeps the per-user launcher entry in sync with the
// most recently integrated portable application.
package desktop

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	ini "gopkg.in/ini.v1"

	"github.com/eikenb/usb-appsync/internal/locate"
	"github.com/eikenb/usb-appsync/internal/session"
)

// ErrOwnership marks a chown/chmod failure after a successful write.
// The entry is left in place; it still works for root-equivalent
// contexts and the failure is surfaced as a warning only.
var ErrOwnership = errors.New("ownership not applied")

// Options are the fixed fields rendered into the launcher entry.
type Options struct {
	Name     string
	Comment  string
	Icon     string
	FileName string
}

// Synchronizer idempotently writes and removes the launcher entry at
// its fixed per-user path. All filesystem access goes through the
// injected afero.Fs so tests run against a memory filesystem.
type Synchronizer struct {
	fs   afero.Fs
	opts Options
}

func NewSynchronizer(fsys afero.Fs, opts Options) *Synchronizer {
	return &Synchronizer{fs: fsys, opts: opts}
}

// EntryPath returns the fixed launcher path for a user.
func (s *Synchronizer) EntryPath(sess session.Session) string {
	return filepath.Join(sess.Home, ".local", "share", "applications", s.opts.FileName)
}

// SyncCreate renders the entry and atomically replaces the file at the
// fixed path: the descriptor is written to a temp file and renamed into
// place so a desktop shell reading concurrently never sees a partial
// file. Ownership and the executable bit are applied afterward; if
// that fails the write stands and a warning is logged.
func (s *Synchronizer) SyncCreate(sess session.Session, cand locate.Candidate) error {
	path := s.EntryPath(sess)
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create applications dir: %w", err)
	}

	data, err := render(s.opts, cand.Path)
	if err != nil {
		return fmt.Errorf("render desktop entry: %w", err)
	}

	// The temp name must be unique per writer: concurrent handlers for
	// distinct devices may sync the same entry path, and the rename is
	// their only serialization point.
	tmpf, err := afero.TempFile(s.fs, dir, "."+s.opts.FileName+".*")
	if err != nil {
		return fmt.Errorf("write desktop entry: %w", err)
	}
	tmp := tmpf.Name()
	if _, err := tmpf.Write(data); err != nil {
		_ = tmpf.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write desktop entry: %w", err)
	}
	if err := tmpf.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write desktop entry: %w", err)
	}
	_ = s.fs.Chmod(tmp, 0o755)
	if err := s.fs.Rename(tmp, path); err != nil {
		// Rename over an existing entry fails on some filesystems;
		// retry with the destination cleared. Never touch the
		// destination unless our own temp file is still there to
		// rename, or a failed writer would delete another writer's
		// freshly renamed entry.
		if exists, _ := afero.Exists(s.fs, tmp); !exists {
			return fmt.Errorf("replace desktop entry: %w", err)
		}
		if rmErr := s.fs.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			_ = s.fs.Remove(tmp)
			return fmt.Errorf("replace desktop entry: %w", err)
		}
		if err := s.fs.Rename(tmp, path); err != nil {
			_ = s.fs.Remove(tmp)
			return fmt.Errorf("replace desktop entry: %w", err)
		}
	}

	if err := s.applyOwnership(path, sess); err != nil {
		log.Warn().Err(err).Str("path", path).Str("user", sess.User).
			Msg("desktop entry written but ownership incomplete")
	}

	log.Info().Str("path", path).Str("exec", cand.Path).Str("user", sess.User).
		Msg("desktop entry synced")
	return nil
}

// SyncRemove deletes the entry at the fixed path. A missing entry is
// success; removal is idempotent.
func (s *Synchronizer) SyncRemove(sess session.Session) error {
	path := s.EntryPath(sess)
	err := s.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove desktop entry: %w", err)
	}
	if err == nil {
		log.Info().Str("path", path).Str("user", sess.User).Msg("desktop entry removed")
	}
	return nil
}

func (s *Synchronizer) applyOwnership(path string, sess session.Session) error {
	if err := s.fs.Chown(path, sess.UID, sess.GID); err != nil {
		return fmt.Errorf("%w: chown: %w", ErrOwnership, err)
	}
	if err := s.fs.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("%w: chmod: %w", ErrOwnership, err)
	}
	return nil
}

func render(opts Options, execPath string) ([]byte, error) {
	// Desktop entries use Key=value without padding.
	ini.PrettyFormat = false

	f := ini.Empty()
	sec, err := f.NewSection("Desktop Entry")
	if err != nil {
		return nil, fmt.Errorf("new section: %w", err)
	}
	for _, kv := range [][2]string{
		{"Type", "Application"},
		{"Name", opts.Name},
		{"Comment", opts.Comment},
		{"Exec", execPath},
		{"Icon", opts.Icon},
		{"Terminal", "false"},
	} {
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("set %s: %w", kv[0], err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return buf.Bytes(), nil
}

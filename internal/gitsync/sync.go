package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Result reports whether a sync brought in new upstream state.
type Result int

const (
	Unchanged Result = iota
	Changed
)

func (r Result) String() string {
	if r == Changed {
		return "changed"
	}
	return "unchanged"
}

// Syncer keeps one local checkout of the target repository up to date.
// The local directory and last-synced revision are owned exclusively here;
// callers read the revision through LastRevision.
type Syncer struct {
	backend   Backend
	remoteURL string
	dir       string
	revision  string
	logger    *slog.Logger
}

// Config for a Syncer. Repo is the "owner/name" identifier; RemoteURL
// overrides the derived https://github.com/<repo>.git when set.
type Config struct {
	Repo      string
	RemoteURL string
	Dir       string
	Backend   Backend
	Logger    *slog.Logger
}

func New(cfg Config) *Syncer {
	remote := cfg.RemoteURL
	if remote == "" {
		remote = fmt.Sprintf("https://github.com/%s.git", cfg.Repo)
	}
	b := cfg.Backend
	if b == nil {
		b = GitBackend{}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Syncer{backend: b, remoteURL: remote, dir: cfg.Dir, logger: lg}
}

// Dir returns the local checkout directory.
func (s *Syncer) Dir() string { return s.dir }

// LastRevision returns the revision recorded by the most recent sync, or ""
// before the first one.
func (s *Syncer) LastRevision() string { return s.revision }

// Sync brings the local checkout up to date. A missing directory triggers a
// fresh clone and reports Changed. Calling Sync twice with no intervening
// upstream change reports Unchanged both times with no side effects.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	if _, err := os.Stat(filepath.Join(s.dir, ".git")); os.IsNotExist(err) {
		return s.clone(ctx)
	}
	return s.pull(ctx)
}

func (s *Syncer) clone(ctx context.Context) (Result, error) {
	// A directory that exists without .git is the user's data, never ours
	// to delete. Only a checkout this attempt created may be cleaned up.
	_, statErr := os.Stat(s.dir)
	existedBefore := statErr == nil
	if err := os.MkdirAll(filepath.Dir(s.dir), 0o750); err != nil {
		return Unchanged, &Error{Kind: KindConflict, Err: err}
	}
	out, err := s.backend.Clone(ctx, s.remoteURL, s.dir)
	if err != nil {
		if !existedBefore {
			// Remove the partial checkout so the next attempt starts fresh.
			_ = os.RemoveAll(s.dir)
		}
		return Unchanged, classify(out, err)
	}
	rev, err := s.backend.Revision(ctx, s.dir)
	if err != nil {
		s.logger.Warn("revision query after clone failed", "err", err)
	}
	s.revision = rev
	s.logger.Info("cloned repository", "remote", s.remoteURL, "dir", s.dir, "revision", rev)
	return Changed, nil
}

func (s *Syncer) pull(ctx context.Context) (Result, error) {
	clean, err := s.backend.IsClean(ctx, s.dir)
	if err != nil {
		return Unchanged, classify("", err)
	}
	if !clean {
		return Unchanged, &Error{
			Kind: KindConflict,
			Err:  fmt.Errorf("working tree %s has local modifications", s.dir),
		}
	}

	before, err := s.backend.Revision(ctx, s.dir)
	if err != nil {
		return Unchanged, classify("", err)
	}

	out, err := s.backend.Pull(ctx, s.dir)
	if err != nil {
		return Unchanged, classify(out, err)
	}

	after, err := s.backend.Revision(ctx, s.dir)
	if err != nil {
		return Unchanged, classify("", err)
	}
	s.revision = after

	if after == before || strings.Contains(out, "Already up to date") {
		return Unchanged, nil
	}
	s.logger.Info("repository updated", "dir", s.dir, "from", before, "to", after)
	return Changed, nil
}

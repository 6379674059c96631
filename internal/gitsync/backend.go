package gitsync

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Backend is the narrow seam to the version-control tool. The deploy loop
// only needs clone, fast-forward pull, a revision query, and a cleanliness
// check; everything else stays out of scope.
type Backend interface {
	Clone(ctx context.Context, remoteURL, dir string) (string, error)
	Pull(ctx context.Context, dir string) (string, error)
	Revision(ctx context.Context, dir string) (string, error)
	IsClean(ctx context.Context, dir string) (bool, error)
}

// GitBackend shells out to the git binary.
type GitBackend struct{}

func (GitBackend) Clone(ctx context.Context, remoteURL, dir string) (string, error) {
	return runGit(ctx, "", "clone", remoteURL, dir)
}

func (GitBackend) Pull(ctx context.Context, dir string) (string, error) {
	// --ff-only: a history rewrite upstream surfaces as an error instead of
	// a surprise merge commit in the deployment checkout.
	return runGit(ctx, dir, "pull", "--ff-only")
}

func (GitBackend) Revision(ctx context.Context, dir string) (string, error) {
	out, err := runGit(ctx, dir, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

func (GitBackend) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// gitTimeout bounds a single git invocation once it is detached from the
// caller's cancellation.
const gitTimeout = 10 * time.Minute

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	// Shutdown must not kill git mid-write: an in-flight operation runs to
	// completion under its own deadline instead of the caller's.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gitTimeout)
	defer cancel()
	// #nosec G204 fixed binary, args assembled above
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}

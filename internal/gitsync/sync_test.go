package gitsync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// fakeBackend scripts backend responses for loop-level tests.
type fakeBackend struct {
	cloneErr   error
	cloneOut   string
	pullOut    string
	pullErr    error
	revisions  []string // consumed by successive Revision calls
	clean      bool
	cleanErr   error
	cloneCalls int
	pullCalls  int
}

func (f *fakeBackend) Clone(_ context.Context, _, dir string) (string, error) {
	f.cloneCalls++
	if f.cloneErr == nil {
		_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o750)
	}
	return f.cloneOut, f.cloneErr
}

func (f *fakeBackend) Pull(context.Context, string) (string, error) {
	f.pullCalls++
	return f.pullOut, f.pullErr
}

func (f *fakeBackend) Revision(context.Context, string) (string, error) {
	if len(f.revisions) == 0 {
		return "", errors.New("no revision scripted")
	}
	rev := f.revisions[0]
	if len(f.revisions) > 1 {
		f.revisions = f.revisions[1:]
	}
	return rev, nil
}

func (f *fakeBackend) IsClean(context.Context, string) (bool, error) {
	return f.clean, f.cleanErr
}

func TestSyncClonesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkout")
	fb := &fakeBackend{revisions: []string{"rev1"}, clean: true}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res != Changed {
		t.Fatalf("initial clone must report Changed, got %v", res)
	}
	if fb.cloneCalls != 1 || fb.pullCalls != 0 {
		t.Fatalf("expected one clone, no pull: clone=%d pull=%d", fb.cloneCalls, fb.pullCalls)
	}
	if s.LastRevision() != "rev1" {
		t.Fatalf("revision not recorded: %q", s.LastRevision())
	}
}

func TestSyncCloneFailureRemovesPartialCheckout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkout")
	fb := &fakeBackend{cloneErr: errors.New("network down"), cloneOut: "fatal: unable to access"}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	_, err := s.Sync(context.Background())
	if err == nil {
		t.Fatal("expected clone error")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindNetwork {
		t.Fatalf("expected network kind, got %v", err)
	}
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Fatal("partial checkout must be removed on clone failure")
	}
}

func TestSyncCloneFailurePreservesExistingDirectory(t *testing.T) {
	// A directory with user files but no .git takes the clone path; git
	// refuses to clone into it. The user's files must survive.
	dir := filepath.Join(t.TempDir(), "checkout")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	precious := filepath.Join(dir, "precious.txt")
	if err := os.WriteFile(precious, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}
	fb := &fakeBackend{
		cloneErr: errors.New("exit status 128"),
		cloneOut: "fatal: destination path 'checkout' already exists and is not an empty directory.",
	}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	_, err := s.Sync(context.Background())
	if !IsConflict(err) {
		t.Fatalf("occupied directory must be a conflict, got %v", err)
	}
	if _, statErr := os.Stat(precious); statErr != nil {
		t.Fatalf("user file destroyed: %v", statErr)
	}
}

func TestSyncIdempotentWhenUpstreamUnchanged(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o750)
	fb := &fakeBackend{clean: true, pullOut: "Already up to date.\n", revisions: []string{"rev1"}}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	for i := 0; i < 2; i++ {
		res, err := s.Sync(context.Background())
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if res != Unchanged {
			t.Fatalf("sync %d must be Unchanged, got %v", i, res)
		}
	}
	if s.LastRevision() != "rev1" {
		t.Fatalf("revision drifted: %q", s.LastRevision())
	}
}

func TestSyncReportsChangedOnNewRevision(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o750)
	fb := &fakeBackend{clean: true, pullOut: "Updating rev1..rev2\n", revisions: []string{"rev1", "rev2"}}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res != Changed {
		t.Fatalf("expected Changed, got %v", res)
	}
	if s.LastRevision() != "rev2" {
		t.Fatalf("revision not advanced: %q", s.LastRevision())
	}
}

func TestSyncDirtyTreeIsConflict(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o750)
	fb := &fakeBackend{clean: false}
	s := New(Config{Repo: "acme/app", Dir: dir, Backend: fb})

	_, err := s.Sync(context.Background())
	if !IsConflict(err) {
		t.Fatalf("dirty tree must be a conflict, got %v", err)
	}
	if fb.pullCalls != 0 {
		t.Fatal("pull must not run on a dirty tree")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		output string
		want   Kind
	}{
		{"fatal: Authentication failed for 'https://github.com/acme/app.git'", KindAuth},
		{"git@github.com: Permission denied (publickey).", KindAuth},
		{"error: Your local changes would be overwritten by merge", KindConflict},
		{"CONFLICT (content): Merge conflict in main.go", KindConflict},
		{"fatal: Not possible to fast-forward, aborting.", KindConflict},
		{"fatal: destination path 'app' already exists and is not an empty directory.", KindConflict},
		{"fatal: unable to access: Could not resolve host", KindNetwork},
	}
	for _, c := range cases {
		got := classify(c.output, errors.New("exit status 1"))
		if got.Kind != c.want {
			t.Errorf("classify(%q) = %v, want %v", c.output, got.Kind, c.want)
		}
	}
}

// End-to-end against the real git binary: init an upstream, clone, commit
// upstream, pull.
func TestGitBackendEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	base := t.TempDir()
	upstream := filepath.Join(base, "upstream")

	run := func(dir string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	_ = os.MkdirAll(upstream, 0o750)
	run(upstream, "init", "-b", "main")
	if err := os.WriteFile(filepath.Join(upstream, "f.txt"), []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	run(upstream, "add", ".")
	run(upstream, "commit", "-m", "one")

	dir := filepath.Join(base, "checkout")
	s := New(Config{Repo: "acme/app", RemoteURL: upstream, Dir: dir})

	res, err := s.Sync(ctx)
	if err != nil || res != Changed {
		t.Fatalf("clone sync: res=%v err=%v", res, err)
	}
	rev1 := s.LastRevision()

	res, err = s.Sync(ctx)
	if err != nil || res != Unchanged {
		t.Fatalf("idempotent sync: res=%v err=%v", res, err)
	}
	if s.LastRevision() != rev1 {
		t.Fatal("revision changed without upstream change")
	}

	if err := os.WriteFile(filepath.Join(upstream, "f.txt"), []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	run(upstream, "commit", "-am", "two")

	res, err = s.Sync(ctx)
	if err != nil || res != Changed {
		t.Fatalf("pull sync: res=%v err=%v", res, err)
	}
	if s.LastRevision() == rev1 {
		t.Fatal("revision must advance after upstream commit")
	}
}

// A cancelled caller context must not kill an in-flight git operation;
// shutdown waits for the current sync to finish.
func TestGitBackendSurvivesCallerCancellation(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("one"), 0o600); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "one")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rev, err := GitBackend{}.Revision(ctx, dir)
	if err != nil {
		t.Fatalf("revision under cancelled context: %v", err)
	}
	if rev == "" {
		t.Fatal("empty revision")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEPLOYWATCH_REPO", "acme/site")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("poll interval: %v", cfg.PollInterval)
	}
	if cfg.LivenessCheck != 5*time.Second {
		t.Fatalf("liveness: %v", cfg.LivenessCheck)
	}
	if got := cfg.Branches; len(got) != 2 || got[0] != "main" || got[1] != "master" {
		t.Fatalf("branches: %v", got)
	}
	if !strings.HasSuffix(cfg.LocalDir, filepath.Join("deploywatch", "site")) {
		t.Fatalf("derived local dir: %q", cfg.LocalDir)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEPLOYWATCH_ENDPOINT_URL", "https://relay.example/poll")
	t.Setenv("DEPLOYWATCH_API_KEY", "tok")
	t.Setenv("DEPLOYWATCH_REPO", "acme/site")
	t.Setenv("DEPLOYWATCH_POLL_INTERVAL", "7")
	t.Setenv("DEPLOYWATCH_BRANCHES", "release, main")
	t.Setenv("DEPLOYWATCH_PID_FILE", "/run/user/1000/app.pid")
	t.Setenv("DEPLOYWATCH_STOP_ON_EXIT", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EndpointURL != "https://relay.example/poll" || cfg.APIKey != "tok" {
		t.Fatalf("relay settings: %+v", cfg)
	}
	if cfg.PollInterval != 7*time.Second {
		t.Fatalf("poll interval: %v", cfg.PollInterval)
	}
	if got := cfg.Branches; len(got) != 2 || got[0] != "release" || got[1] != "main" {
		t.Fatalf("branches: %v", got)
	}
	if cfg.PIDFile != "/run/user/1000/app.pid" {
		t.Fatalf("pid_file: %q", cfg.PIDFile)
	}
	if !cfg.StopOnExit {
		t.Fatal("stop_on_exit not parsed")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploywatch.toml")
	body := `endpoint_url = "https://relay.example/poll"
api_key = "tok"
repo = "acme/site"
run_cmd = "./serve"
local_dir = "` + filepath.Join(dir, "checkout") + `"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RunCmd != "./serve" {
		t.Fatalf("run_cmd: %q", cfg.RunCmd)
	}
	if err := cfg.Validate(ModeDeploy); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploywatch.toml")
	if err := os.WriteFile(path, []byte(`repo = "acme/site"`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEPLOYWATCH_REPO", "acme/other")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Repo != "acme/other" {
		t.Fatalf("env should win: %q", cfg.Repo)
	}
}

func TestLoadBadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateMissing(t *testing.T) {
	cfg := &Config{PollInterval: time.Second, LocalDir: "/tmp/x"}
	err := cfg.Validate(ModeUpdate)
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	for _, want := range []string{"DEPLOYWATCH_ENDPOINT_URL", "DEPLOYWATCH_API_KEY", "DEPLOYWATCH_REPO"} {
		if !strings.Contains(cerr.Error(), want) {
			t.Fatalf("message missing %s: %s", want, cerr.Error())
		}
	}
}

func TestValidateDeployNeedsRunCmd(t *testing.T) {
	cfg := &Config{
		EndpointURL:  "https://relay.example",
		APIKey:       "tok",
		Repo:         "acme/site",
		PollInterval: time.Second,
		LocalDir:     "/tmp/x",
	}
	if err := cfg.Validate(ModeUpdate); err != nil {
		t.Fatalf("update mode should validate: %v", err)
	}
	if err := cfg.Validate(ModeDeploy); err == nil {
		t.Fatal("deploy mode requires run_cmd")
	}
}

func TestEnvKeys(t *testing.T) {
	keys := EnvKeys()
	found := false
	for _, k := range keys {
		if !strings.HasPrefix(k, "DEPLOYWATCH_") {
			t.Fatalf("bad key %q", k)
		}
		if k == "DEPLOYWATCH_API_KEY" {
			found = true
		}
	}
	if !found {
		t.Fatal("DEPLOYWATCH_API_KEY not listed")
	}
}

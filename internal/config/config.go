package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects which settings are required.
type Mode int

const (
	ModeUpdate Mode = iota // watch + sync only
	ModeDeploy             // sync + restart + supervise
)

func (m Mode) String() string {
	if m == ModeDeploy {
		return "deploy"
	}
	return "update"
}

// Error is a fatal configuration problem. The process exits at startup
// with a diagnostic; nothing is retried.
type Error struct {
	Missing []string
	Reason  string
}

func (e *Error) Error() string {
	if len(e.Missing) > 0 {
		keys := make([]string, len(e.Missing))
		for i, k := range e.Missing {
			keys[i] = envKey(k)
		}
		return "missing required configuration: " + strings.Join(keys, ", ")
	}
	return "invalid configuration: " + e.Reason
}

// Config holds every recognized setting. Values come from the environment
// (DEPLOYWATCH_ prefix) or an optional TOML file; environment wins.
type Config struct {
	EndpointURL   string        // relay polling endpoint
	APIKey        string        // relay bearer token
	PollInterval  time.Duration // default 30s
	Repo          string        // target repository, owner/name
	Branches      []string      // deploy branches, default main+master
	LocalDir      string        // checkout directory, default under the user home
	RemoteURL     string        // overrides the derived GitHub clone URL
	RunCmd        string        // command that starts the application
	ProbeCmd      string        // liveness probe command
	PIDFile       string        // liveness via a pid file the application writes
	StartGrace    time.Duration // probe must succeed within this window
	StopGrace     time.Duration // SIGTERM to SIGKILL window
	LivenessCheck time.Duration // liveness tick cadence, default 5s
	LogPath       string        // agent log file; empty means the per-user default
	LogDir        string        // managed application stdout/stderr directory
	HistoryDSN    string        // optional deploy-history sink
	MetricsListen string        // optional prometheus listen address
	StopOnExit    bool          // stop the application on agent shutdown
}

// settingKeys lists every recognized key. Durations are configured in
// seconds, matching the original environment contract.
var settingKeys = []string{
	"endpoint_url", "api_key", "poll_interval", "repo", "branches",
	"local_dir", "remote_url", "run_cmd", "probe_cmd", "pid_file", "start_grace",
	"stop_grace", "liveness_check", "log_path", "log_dir", "history_dsn",
	"metrics_listen", "stop_on_exit",
}

func envKey(key string) string {
	return "DEPLOYWATCH_" + strings.ToUpper(key)
}

// EnvKeys returns the recognized environment variable names, used when
// capturing the configuration into a service registration.
func EnvKeys() []string {
	out := make([]string, len(settingKeys))
	for i, k := range settingKeys {
		out[i] = envKey(k)
	}
	return out
}

// Load reads configuration from path (optional TOML file; "" skips the
// file) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPLOYWATCH")
	v.AutomaticEnv()

	v.SetDefault("poll_interval", 30)
	v.SetDefault("liveness_check", 5)
	v.SetDefault("start_grace", 10)
	v.SetDefault("stop_grace", 5)
	v.SetDefault("branches", "main,master")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Reason: fmt.Sprintf("read config file %s: %v", path, err)}
		}
	}

	cfg := &Config{
		EndpointURL:   v.GetString("endpoint_url"),
		APIKey:        v.GetString("api_key"),
		PollInterval:  time.Duration(v.GetInt("poll_interval")) * time.Second,
		Repo:          v.GetString("repo"),
		Branches:      splitList(v.GetString("branches")),
		LocalDir:      v.GetString("local_dir"),
		RemoteURL:     v.GetString("remote_url"),
		RunCmd:        v.GetString("run_cmd"),
		ProbeCmd:      v.GetString("probe_cmd"),
		PIDFile:       v.GetString("pid_file"),
		StartGrace:    time.Duration(v.GetInt("start_grace")) * time.Second,
		StopGrace:     time.Duration(v.GetInt("stop_grace")) * time.Second,
		LivenessCheck: time.Duration(v.GetInt("liveness_check")) * time.Second,
		LogPath:       v.GetString("log_path"),
		LogDir:        v.GetString("log_dir"),
		HistoryDSN:    v.GetString("history_dsn"),
		MetricsListen: v.GetString("metrics_listen"),
		StopOnExit:    v.GetBool("stop_on_exit"),
	}

	if cfg.LocalDir == "" && cfg.Repo != "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.LocalDir = filepath.Join(home, "deploywatch", filepath.Base(cfg.Repo))
		}
	}
	return cfg, nil
}

// Validate fails fast on settings the selected mode requires.
func (c *Config) Validate(mode Mode) error {
	var missing []string
	if c.EndpointURL == "" {
		missing = append(missing, "endpoint_url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if c.Repo == "" {
		missing = append(missing, "repo")
	}
	if mode == ModeDeploy && c.RunCmd == "" {
		missing = append(missing, "run_cmd")
	}
	if len(missing) > 0 {
		return &Error{Missing: missing}
	}
	if c.PollInterval <= 0 {
		return &Error{Reason: "poll_interval must be positive"}
	}
	if c.LocalDir == "" {
		return &Error{Reason: "local_dir could not be derived; set it explicitly"}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads agent and backend configuration from gcfg-style INI
// files, then applies environment-variable overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gravwell/gcfg"
)

const maxConfigSize int64 = 4 * 1024 * 1024 // matches the gravwell ingest config loader's cap

// AgentConfig is the on-host agent's configuration: an [Agent] section
// covering agent.{server,token,protocol}, and one section per source kind.
type AgentConfig struct {
	Agent struct {
		Server          string // host:port, required
		Token           string // opaque agent token, required
		Protocol        string // "tcp" (default) or "http"
		Log_File        string
		Log_Level       string
		Log_Max_Size_MB int
		Log_Max_History int
	}
	Sourcefile struct {
		Enabled bool
		Paths   []string
	}
	Sourcedocker struct {
		Enabled    bool
		Containers []string
	}
	Sourcejournald struct {
		Enabled bool
		Units   []string
	}
}

// BackendConfig is the ingestion server's configuration: listen addresses,
// store DSN, and the JWT secret used to verify stream subscribers.
type BackendConfig struct {
	Backend struct {
		Tcp_Bind        string
		Http_Bind       string
		Jwt_Secret      string
		Log_File        string
		Log_Level       string
		Log_Max_Size_MB int
		Log_Max_History int
	}
	Store struct {
		Driver string // "postgres"
		Dsn    string
	}
}

// LoadAgentConfig reads path as a gcfg INI file, defaults agent.protocol to
// "tcp", then applies ILOG_AGENT_* environment overrides. Unknown keys in
// either the file or the environment are warned about by the caller via the
// returned warnings, never treated as fatal.
func LoadAgentConfig(path string) (*AgentConfig, []string, error) {
	cfg := &AgentConfig{}
	cfg.Agent.Protocol = "tcp"
	if err := readFileInto(cfg, path); err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	warnings := applyEnvOverrides(cfg, "ILOG_AGENT_")
	if cfg.Agent.Server == "" {
		return nil, warnings, fmt.Errorf("config: agent.server is required")
	}
	if cfg.Agent.Token == "" {
		return nil, warnings, fmt.Errorf("config: agent.token is required")
	}
	if cfg.Agent.Protocol != "tcp" && cfg.Agent.Protocol != "http" {
		return nil, warnings, fmt.Errorf("config: agent.protocol must be \"tcp\" or \"http\", got %q", cfg.Agent.Protocol)
	}
	return cfg, warnings, nil
}

// LoadBackendConfig reads path as a gcfg INI file and applies
// ILOG_BACKEND_* environment overrides.
func LoadBackendConfig(path string) (*BackendConfig, []string, error) {
	cfg := &BackendConfig{}
	if err := readFileInto(cfg, path); err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	warnings := applyEnvOverrides(cfg, "ILOG_BACKEND_")
	return cfg, warnings, nil
}

// readFileInto mirrors the gravwell ingest config loader's LoadConfigFile:
// stat first to reject an oversized file before reading it, then hand the
// raw bytes to gcfg.ReadStringInto (gcfg has no ReadFileInto of its own).
func readFileInto(v interface{}, path string) error {
	fin, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return err
	}
	if fi.Size() > maxConfigSize {
		return fmt.Errorf("config file %s is too large (%d bytes)", path, fi.Size())
	}
	b, err := io.ReadAll(fin)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return gcfg.ReadStringInto(v, string(b))
}

// applyEnvOverrides walks environment variables carrying the given prefix
// and assigns them onto the matching field, with "." in the conceptual
// config key mapped to "_" in the environment variable name (e.g.
// ILOG_AGENT_SOURCEFILE_ENABLED overrides the file tailer's Enabled field).
// gcfg has no built-in notion of environment overrides; this is layered on
// after the file parse so environment values always win.
func applyEnvOverrides(cfg interface{}, prefix string) (warnings []string) {
	fields := envOverrideTargets(cfg)
	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 || !strings.HasPrefix(kv[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(kv[0], prefix))
		setter, ok := fields[key]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown config override %s", kv[0]))
			continue
		}
		if err := setter(kv[1]); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid value for %s: %v", kv[0], err))
		}
	}
	return
}

// envOverrideTargets enumerates the recognized override keys (lowercased,
// "_"-joined) and how to assign a raw environment string onto them. Both
// config shapes are small and fixed, so a hand-written table is clearer
// here than reflecting over nested structs the way the gravwell ingest
// config loader's VariableConfig does for its much larger surface.
func envOverrideTargets(cfg interface{}) map[string]func(string) error {
	switch c := cfg.(type) {
	case *AgentConfig:
		return map[string]func(string) error{
			"agent_server":            func(v string) error { c.Agent.Server = v; return nil },
			"agent_token":             func(v string) error { c.Agent.Token = v; return nil },
			"agent_protocol":          func(v string) error { c.Agent.Protocol = v; return nil },
			"agent_log_file":          func(v string) error { c.Agent.Log_File = v; return nil },
			"agent_log_level":         func(v string) error { c.Agent.Log_Level = v; return nil },
			"agent_log_max_size_mb":   intSetter(&c.Agent.Log_Max_Size_MB),
			"agent_log_max_history":   intSetter(&c.Agent.Log_Max_History),
			"sourcefile_enabled":      boolSetter(&c.Sourcefile.Enabled),
			"sourcefile_paths":        listSetter(&c.Sourcefile.Paths),
			"sourcedocker_enabled":    boolSetter(&c.Sourcedocker.Enabled),
			"sourcedocker_containers": listSetter(&c.Sourcedocker.Containers),
			"sourcejournald_enabled":  boolSetter(&c.Sourcejournald.Enabled),
			"sourcejournald_units":    listSetter(&c.Sourcejournald.Units),
		}
	case *BackendConfig:
		return map[string]func(string) error{
			"backend_tcp_bind":        func(v string) error { c.Backend.Tcp_Bind = v; return nil },
			"backend_http_bind":       func(v string) error { c.Backend.Http_Bind = v; return nil },
			"backend_jwt_secret":      func(v string) error { c.Backend.Jwt_Secret = v; return nil },
			"backend_log_file":        func(v string) error { c.Backend.Log_File = v; return nil },
			"backend_log_level":       func(v string) error { c.Backend.Log_Level = v; return nil },
			"backend_log_max_size_mb": intSetter(&c.Backend.Log_Max_Size_MB),
			"backend_log_max_history": intSetter(&c.Backend.Log_Max_History),
			"store_driver":            func(v string) error { c.Store.Driver = v; return nil },
			"store_dsn":               func(v string) error { c.Store.Dsn = v; return nil },
		}
	default:
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolSetter(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// listSetter splits on commas, the flattened form of a gcfg repeated-key
// array when expressed as a single environment variable.
func listSetter(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
		return nil
	}
}

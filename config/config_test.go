package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "agent.conf")
	require.NoError(t, os.WriteFile(p, []byte(body), 0640))
	return p
}

func TestLoadAgentConfigDefaultsProtocolToTCP(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
Token = proj_abc_xyz
`)
	cfg, warnings, err := LoadAgentConfig(p)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "tcp", cfg.Agent.Protocol)
}

func TestLoadAgentConfigRejectsMissingToken(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
`)
	_, _, err := LoadAgentConfig(p)
	require.Error(t, err)
}

func TestLoadAgentConfigRejectsBadProtocol(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
Token = tok
Protocol = carrier-pigeon
`)
	_, _, err := LoadAgentConfig(p)
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
Token = file-token
`)
	t.Setenv("ILOG_AGENT_AGENT_TOKEN", "env-token")
	cfg, _, err := LoadAgentConfig(p)
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Agent.Token)
}

func TestEnvOverrideUnknownKeyWarnsNotFails(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
Token = tok
`)
	t.Setenv("ILOG_AGENT_NOT_A_REAL_KEY", "x")
	cfg, warnings, err := LoadAgentConfig(p)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	require.Equal(t, "tok", cfg.Agent.Token)
}

func TestListSetterSplitsOnComma(t *testing.T) {
	p := writeTempConfig(t, `
[Agent]
Server = backend.example.com:9100
Token = tok
`)
	t.Setenv("ILOG_AGENT_SOURCEFILE_PATHS", "/var/log/a.log, /var/log/b.log")
	cfg, _, err := LoadAgentConfig(p)
	require.NoError(t, err)
	require.Equal(t, []string{"/var/log/a.log", "/var/log/b.log"}, cfg.Sourcefile.Paths)
}

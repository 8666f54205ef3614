package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		NatsURL:            "nats://localhost:4222",
		CollectionInterval: 5 * time.Minute,
		SchedulerInterval:  10 * time.Second,
		CommandTimeout:     30 * time.Second,
		AdapterWorkers:     5,
		SyslogTailLines:    200,
		EventStoreMaxKeys:  100,
		ConnectionTestPool: PoolConfig{Workers: 1, QueueSize: 1},
		CollectionPool:     PoolConfig{Workers: 1, QueueSize: 1},
		BatchPool:          PoolConfig{Workers: 1, QueueSize: 1},
		EnablePublishing:   true,
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name:   "interval too short",
			mutate: func(c *Config) { c.CollectionInterval = 500 * time.Millisecond },
			errMsg: "COLLECTION_INTERVAL",
		},
		{
			name:   "no adapter workers",
			mutate: func(c *Config) { c.AdapterWorkers = 0 },
			errMsg: "ADAPTER_WORKERS",
		},
		{
			name:   "empty batch pool",
			mutate: func(c *Config) { c.BatchPool = PoolConfig{} },
			errMsg: "POOL_BATCH",
		},
		{
			name:   "publishing without nats",
			mutate: func(c *Config) { c.NatsURL = "" },
			errMsg: "NATS_URL",
		},
		{
			name:   "zero command timeout",
			mutate: func(c *Config) { c.CommandTimeout = 0 },
			errMsg: "COMMAND_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COLLECTION_INTERVAL", "")
	t.Setenv("ENABLED_SOURCES", "syslog, process")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.CollectionInterval)
	assert.Equal(t, []string{"syslog", "process"}, cfg.EnabledSources)
	assert.Equal(t, 5, cfg.AdapterWorkers)
	assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("COLLECTION_INTERVAL", "soon")

	_, err := Load()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "COLLECTION_INTERVAL")
}

func TestDefaultThreats(t *testing.T) {
	threats := DefaultThreats()

	assert.Equal(t, []int{23, 1337, 4444, 5555, 6666, 6667, 12345, 27374, 31337, 54320}, threats.SuspiciousPorts())
	assert.True(t, threats.IsSuspiciousPort(4444))
	assert.False(t, threats.IsSuspiciousPort(443))

	names := make([]string, 0)
	for _, c := range threats.KeywordCategories() {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"AUTH_FAILURE", "PRIVILEGE_ESCALATION", "MALWARE", "NETWORK_ATTACK", "SUSPICIOUS_PROCESS"}, names)
}

func TestThreats_ProcessMatching(t *testing.T) {
	threats := DefaultThreats()

	match, ok := threats.MatchSuspiciousProcess("/tmp/XMRig-6.20")
	assert.True(t, ok)
	assert.Equal(t, "xmrig", match)

	_, ok = threats.MatchSuspiciousProcess("/usr/sbin/sshd")
	assert.False(t, ok)

	assert.True(t, threats.IsObfuscatedCommand("cat ../../etc/shadow"))
	assert.True(t, threats.IsObfuscatedCommand("powershell.exe -enc SQBFAFgA"))
	assert.False(t, threats.IsObfuscatedCommand("/usr/bin/python3 app.py"))
}

func TestThreats_OffHours(t *testing.T) {
	threats := DefaultThreats()

	assert.True(t, threats.IsOffHours(3))
	assert.True(t, threats.IsOffHours(23))
	assert.False(t, threats.IsOffHours(6))
	assert.False(t, threats.IsOffHours(22))
	assert.False(t, threats.IsOffHours(14))
}

func TestLoadThreats_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threats.yaml")
	content := `
suspicious_ports: [9999]
keyword:
  categories:
    - name: CUSTOM
      patterns: ['forbidden']
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	threats, err := LoadThreats(path)
	require.NoError(t, err)

	assert.Equal(t, []int{9999}, threats.SuspiciousPorts())
	categories := threats.KeywordCategories()
	require.Len(t, categories, 1)
	assert.Equal(t, 0.7, categories[0].Score)
	assert.Equal(t, "AUTHORIZED", threats.AuthorizedTag())
}

func TestParseThreats_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "suspicious_ports: [70000]"},
		{"bad regex", "keyword:\n  categories:\n    - name: X\n      patterns: ['(']"},
		{"score out of range", "keyword:\n  categories:\n    - name: X\n      score: 1.5"},
		{"unnamed category", "keyword:\n  categories:\n    - patterns: ['x']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseThreats([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

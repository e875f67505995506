package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "LLM_API_KEY",
		"DEEPGRAM_API_KEY", "PRESIP_PORT", "PRESIP_SIMULATOR",
	} {
		t.Setenv(key, "")
	}
}

// TestLoadMissingFileUsesDefaults 验证没有配置文件时以 scripted 模式启动。
func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "scripted", cfg.Simulator.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Simulator.Delays.Complete)
	assert.Equal(t, "none", cfg.Speech.Provider)
	assert.Equal(t, 2*time.Hour, cfg.Session.IdleTTL)
	assert.Equal(t, 10*time.Minute, cfg.Session.SweepInterval)
}

// TestLoadFileAndEnvOverrides 验证 YAML 与环境变量的覆盖顺序。
// 场景：文件指定 gemini + generative，密钥来自 LLM_API_KEY，端口来自 PRESIP_PORT。
func TestLoadFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: 9000
llm:
  provider: gemini
  gemini:
    model: gemini-test
simulator:
  mode: generative
  delays:
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("PRESIP_PORT", "9100")
	t.Setenv("DEEPGRAM_API_KEY", "dg")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.LLM.Gemini.APIKey)
	assert.Equal(t, "gemini-test", cfg.LLM.Active().Model)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.False(t, cfg.Simulator.Delays.Enabled)
	assert.Equal(t, "deepgram", cfg.Speech.Provider)
	assert.Equal(t, "0.0.0.0:9100", cfg.Addr())
}

// TestValidate 覆盖主要的校验分支。
func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"generative without key": func(c *Config) { c.Simulator.Mode = "generative" },
		"unknown mode":           func(c *Config) { c.Simulator.Mode = "magic" },
		"bad port":               func(c *Config) { c.Server.Port = 0 },
		"deepgram without key":   func(c *Config) { c.Speech.Provider = "deepgram" },
		"bad rate limit":         func(c *Config) { c.RateLimit.Burst = 0 },
		"negative idle ttl":      func(c *Config) { c.Session.IdleTTL = -time.Minute },
		"ttl without sweep":      func(c *Config) { c.Session.SweepInterval = 0 },
		"unknown provider": func(c *Config) {
			c.Simulator.Mode = "generative"
			c.LLM.Provider = "talopenai"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())

	noEviction := Default()
	noEviction.Session = SessionConfig{}
	assert.NoError(t, noEviction.Validate(), "idle_ttl 0 disables eviction")
}

// TestLoadRejectsBadYAML 验证 YAML 解析失败时报错。
func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Speech    SpeechConfig    `yaml:"speech"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Stream    StreamConfig    `yaml:"stream"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins websocket 握手允许的 Origin，空表示全部允许。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig 生成式模拟器使用的大模型配置
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai", "anthropic" or "gemini"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
	Gemini    LLMProviderConfig `yaml:"gemini"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	APIURL      string        `yaml:"api_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Active 返回当前 provider 的配置。
func (c LLMConfig) Active() LLMProviderConfig {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic
	case "gemini":
		return c.Gemini
	default:
		return c.OpenAI
	}
}

type SimulatorConfig struct {
	// Mode scripted | generative
	Mode string `yaml:"mode"`
	// Delays 只作用于 scripted 模式，模拟网络延迟。
	Delays DelayConfig `yaml:"delays"`
	// PromptsDir 覆盖内置 prompt 模板目录。
	PromptsDir string `yaml:"prompts_dir"`
}

type DelayConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Complete time.Duration `yaml:"complete"`
	Tip      time.Duration `yaml:"tip"`
	Score    time.Duration `yaml:"score"`
}

type SpeechConfig struct {
	// Provider deepgram | none
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	// MaxAudioBytes 单次上传音频上限。
	MaxAudioBytes int64 `yaml:"max_audio_bytes"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type StreamConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// SessionConfig 空闲会话清理。IdleTTL 为 0 时不清理。
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Production bool   `yaml:"production"`
}

type PathsConfig struct {
	// Catalog 角色与场景目录，空则使用内置目录。
	Catalog string `yaml:"catalog"`
	// Scripts 模拟器决策表，空则使用内置脚本。
	Scripts string `yaml:"scripts"`
}

// Default 返回不依赖任何密钥即可运行的默认配置（scripted 模式）。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "openai",
			OpenAI: LLMProviderConfig{
				APIURL:      "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.7,
				MaxTokens:   800,
			},
			Anthropic: LLMProviderConfig{
				APIURL:      "https://api.anthropic.com/v1",
				Model:       "claude-3-5-haiku-latest",
				Temperature: 0.7,
				MaxTokens:   800,
			},
			Gemini: LLMProviderConfig{
				Model:       "gemini-2.5-flash",
				Temperature: 0.7,
				MaxTokens:   800,
			},
		},
		Simulator: SimulatorConfig{
			Mode: "scripted",
			Delays: DelayConfig{
				Enabled:  true,
				Complete: 1500 * time.Millisecond,
				Tip:      2000 * time.Millisecond,
				Score:    2500 * time.Millisecond,
			},
		},
		Speech: SpeechConfig{
			Provider:      "none",
			Model:         "nova-3",
			MaxAudioBytes: 10 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Stream: StreamConfig{
			QueueSize:    16,
			PingInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       2 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load 从文件加载配置。path 为空或文件不存在时使用默认值，再应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// 没有配置文件也能以 scripted 模式启动。
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 从环境变量覆盖敏感信息与端口。
func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.Gemini.APIKey = key
	}
	// LLM_API_KEY 作用于当前 provider，优先级最高。
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.OpenAI.APIKey = key
		case "anthropic":
			c.LLM.Anthropic.APIKey = key
		case "gemini":
			c.LLM.Gemini.APIKey = key
		}
	}
	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		c.Speech.APIKey = key
		if c.Speech.Provider == "" || c.Speech.Provider == "none" {
			c.Speech.Provider = "deepgram"
		}
	}
	if mode := os.Getenv("PRESIP_SIMULATOR"); mode != "" {
		c.Simulator.Mode = mode
	}
	if port := os.Getenv("PRESIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Simulator.Mode {
	case "scripted":
	case "generative":
		switch c.LLM.Provider {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
		}
		if c.LLM.Active().APIKey == "" {
			return fmt.Errorf("generative simulator needs an API key for %s (set LLM_API_KEY or config)", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported simulator mode: %q", c.Simulator.Mode)
	}
	switch c.Speech.Provider {
	case "", "none":
	case "deepgram":
		if c.Speech.APIKey == "" {
			return fmt.Errorf("deepgram speech needs DEEPGRAM_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported speech provider: %q", c.Speech.Provider)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit needs positive requests_per_second and burst")
	}
	if c.Stream.QueueSize <= 0 {
		return fmt.Errorf("stream queue_size must be positive")
	}
	if c.Session.IdleTTL < 0 {
		return fmt.Errorf("session idle_ttl must not be negative")
	}
	if c.Session.IdleTTL > 0 && c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep_interval must be positive when idle_ttl is set")
	}
	return nil
}

// Addr 监听地址。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

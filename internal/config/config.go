package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Browser channels understood by BrowserConfig.Channel.
const (
	ChannelDefault = "default"
	ChannelCanary  = "canary"
	ChannelTesting = "testing"
)

const (
	defaultScreenshotPath = "web-agent-screenshot.jpg"
	defaultNavTimeout     = 15 * time.Second
	defaultStableTimeout  = 30 * time.Second
)

// Config is the whole process configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Navigate NavigateConfig `yaml:"navigate"`
	Annotate AnnotateConfig `yaml:"annotate"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Log      LogConfig      `yaml:"log"`
}

type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	Channel  string `yaml:"channel"`
	// Executable paths per channel; testing uses the bundled Chromium.
	ChromePath       string `yaml:"chrome_path"`
	CanaryPath       string `yaml:"canary_path"`
	UserDataDir      string `yaml:"user_data_dir"`
	CanaryUserData   string `yaml:"canary_user_data_dir"`
	Profile          string `yaml:"profile"`
	ViewportWidth    int    `yaml:"viewport_width"`
	ViewportHeight   int    `yaml:"viewport_height"`
	Stealth          bool   `yaml:"stealth"`
	SkipInstallCheck bool   `yaml:"skip_install_check"`
}

// ExecutablePath resolves the Chrome binary for the configured channel.
// Empty means the playwright bundled Chromium.
func (b BrowserConfig) ExecutablePath() string {
	switch b.Channel {
	case ChannelDefault:
		return b.ChromePath
	case ChannelTesting:
		return ""
	default:
		return b.CanaryPath
	}
}

// UserDataPath resolves the profile directory for the configured channel.
func (b BrowserConfig) UserDataPath() string {
	switch b.Channel {
	case ChannelDefault:
		return b.UserDataDir
	case ChannelTesting:
		return ""
	default:
		return b.CanaryUserData
	}
}

type NavigateConfig struct {
	ScreenshotPath string        `yaml:"screenshot_path"`
	PageTimeout    time.Duration `yaml:"page_timeout"`
	StableTimeout  time.Duration `yaml:"stable_timeout"`
	StableInterval time.Duration `yaml:"stable_interval"`
	StableSamples  int           `yaml:"stable_samples"`
	BodyOnly       bool          `yaml:"body_only"`
	NewTabTimeout  time.Duration `yaml:"new_tab_timeout"`
}

type AnnotateConfig struct {
	ViewportOnly bool `yaml:"viewport_only"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"-"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type AgentConfig struct {
	// MaxSteps bounds model turns per task; 0 means unlimited.
	MaxSteps int `yaml:"max_steps"`
	// HintCandidates is how many visible identifiers are suggested after a miss.
	HintCandidates int `yaml:"hint_candidates"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			Channel:        ChannelCanary,
			ViewportWidth:  1600,
			ViewportHeight: 1200,
			Stealth:        true,
		},
		Navigate: NavigateConfig{
			ScreenshotPath: defaultScreenshotPath,
			PageTimeout:    defaultNavTimeout,
			StableTimeout:  defaultStableTimeout,
			StableInterval: time.Second,
			StableSamples:  3,
			NewTabTimeout:  defaultNavTimeout,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			MaxTokens: 1024,
		},
		Agent: AgentConfig{
			HintCandidates: 15,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then .env, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
		}
	}
	// .env is optional, a missing file is not an error.
	_ = godotenv.Load()
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = strings.Trim(v, "\"'")
		}
	}
	str("GOOGLE_CHROME_PATH", &c.Browser.ChromePath)
	str("GOOGLE_CHROME_CANARY_PATH", &c.Browser.CanaryPath)
	str("GOOGLE_CHROME_USER_DATA_DIR", &c.Browser.UserDataDir)
	str("GOOGLE_CHROME_CANARY_USER_DATA_DIR", &c.Browser.CanaryUserData)
	str("PROFILE", &c.Browser.Profile)
	str("AGENT_BROWSER", &c.Browser.Channel)
	str("AGENT_SCREENSHOT_PATH", &c.Navigate.ScreenshotPath)
	str("AGENT_LOG_LEVEL", &c.Log.Level)
	str("LLM_PROVIDER", &c.LLM.Provider)
	c.Browser.Headless = parseBool(getenv("AGENT_HEADLESS"), c.Browser.Headless)
	c.Browser.Stealth = parseBool(getenv("AGENT_STEALTH"), c.Browser.Stealth)
	if v := strings.TrimSpace(getenv("AGENT_MAX_STEPS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxSteps = n
		}
	}
	c.applyLLMEnv(getenv)
}

// UseProvider switches the model provider and rereads its key, model and
// endpoint from the environment.
func (c *Config) UseProvider(provider string) {
	c.LLM.Provider = provider
	c.LLM.APIKey, c.LLM.Model, c.LLM.BaseURL = "", "", ""
	c.applyLLMEnv(os.Getenv)
}

func (c *Config) applyLLMEnv(getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = strings.Trim(v, "\"'")
		}
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	switch c.LLM.Provider {
	case "anthropic":
		str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
		str("ANTHROPIC_MODEL", &c.LLM.Model)
		str("ANTHROPIC_BASE_URL", &c.LLM.BaseURL)
	default:
		str("OPENAI_API_KEY", &c.LLM.APIKey)
		str("OPENAI_MODEL", &c.LLM.Model)
		str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Browser.Channel {
	case ChannelDefault, ChannelCanary, ChannelTesting:
	default:
		return fmt.Errorf("unknown browser channel %q (use default, canary or testing)", c.Browser.Channel)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", c.LLM.Provider)
	}
	if c.Navigate.ScreenshotPath == "" {
		return errors.New("screenshot path is empty")
	}
	if c.Navigate.PageTimeout <= 0 {
		return errors.New("page timeout must be positive")
	}
	if c.Navigate.StableSamples <= 0 {
		return errors.New("stable samples must be positive")
	}
	if c.Agent.MaxSteps < 0 {
		return errors.New("max steps must not be negative")
	}
	return nil
}

func parseBool(val string, def bool) bool {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// Package config loads and validates application configuration from a YAML
// file, environment variables, and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      App      `mapstructure:"app"`
	LLM      LLM      `mapstructure:"llm"`
	TTS      TTS      `mapstructure:"tts"`
	Store    Store    `mapstructure:"store"`
	Ingest   Ingest   `mapstructure:"ingest"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Hosts    []Host   `mapstructure:"hosts"`
}

// App holds general application configuration.
type App struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
}

// LLM holds the generation collaborator configuration. The endpoint speaks
// the OpenAI chat-completions wire format.
type LLM struct {
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	Timeout  string `mapstructure:"timeout"`
	CacheTTL string `mapstructure:"cache_ttl"`
}

// TTS holds the synthesis collaborator configuration.
type TTS struct {
	BaseURL    string `mapstructure:"base_url"`
	Timeout    string `mapstructure:"timeout"`
	SampleRate int    `mapstructure:"sample_rate"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

// Store holds the downstream content-store configuration.
type Store struct {
	BaseURL string `mapstructure:"base_url"`
	AuthKey string `mapstructure:"auth_key"`
}

// Ingest holds the feed ingestion configuration.
type Ingest struct {
	Feeds         []string `mapstructure:"feeds"`
	Categories    []string `mapstructure:"categories"`
	IntervalMin   int      `mapstructure:"interval_min"`
	ScheduleTimes []string `mapstructure:"schedule_times"` // "HH:MM"
}

// Pipeline holds flush thresholds for the aggregator.
type Pipeline struct {
	MinClusters        int    `mapstructure:"min_clusters"`
	MaxWait            string `mapstructure:"max_wait"`
	MinEpisodeClusters int    `mapstructure:"min_episode_clusters"`
}

// Host is a broadcast persona bound to a set of categories.
type Host struct {
	Name       string   `mapstructure:"name"`
	Voice      string   `mapstructure:"voice"`
	Categories []string `mapstructure:"categories"`
}

var globalConfig *Config

// Load reads configuration from configFile (or ./loopcast.yaml and
// $HOME/.loopcast.yaml when empty), layering environment variables on top.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".loopcast")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LOOPCAST")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.App.DataDir = expandPath(config.App.DataDir)

	if err := validate(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the loaded configuration, loading defaults if Load was never
// called.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.data_dir", "~/.loopcast")
	viper.SetDefault("app.log_level", "info")

	viper.SetDefault("llm.base_url", "http://localhost:11434/v1")
	viper.SetDefault("llm.model", "llama3")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("llm.cache_ttl", "168h")

	viper.SetDefault("tts.base_url", "http://localhost:8880")
	viper.SetDefault("tts.timeout", "180s")
	viper.SetDefault("tts.sample_rate", 16000)
	viper.SetDefault("tts.ffmpeg_path", "ffmpeg")

	viper.SetDefault("store.base_url", "http://localhost:8899")

	viper.SetDefault("ingest.interval_min", 60)

	viper.SetDefault("pipeline.min_clusters", 10)
	viper.SetDefault("pipeline.max_wait", "6h")
	viper.SetDefault("pipeline.min_episode_clusters", 3)
}

func validate(config *Config) error {
	if config.Store.BaseURL == "" {
		return fmt.Errorf("store.base_url is required")
	}
	if config.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	for _, ts := range config.Ingest.ScheduleTimes {
		if _, err := time.Parse("15:04", ts); err != nil {
			return fmt.Errorf("invalid schedule time %q: %w", ts, err)
		}
	}
	return nil
}

// MaxWaitDuration parses pipeline.max_wait, falling back to 6h.
func (p Pipeline) MaxWaitDuration() time.Duration {
	d, err := time.ParseDuration(p.MaxWait)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// TimeoutDuration parses the LLM timeout, falling back to 120s.
func (l LLM) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// CacheTTLDuration parses the generation cache TTL, falling back to 168h.
func (l LLM) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(l.CacheTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// HostFor returns the first host whose category list contains category.
func HostFor(hosts []Host, category string) (Host, bool) {
	for _, h := range hosts {
		for _, c := range h.Categories {
			if c == category {
				return h, true
			}
		}
	}
	return Host{}, false
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Package config provides configuration for the research assistant service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ModeMock selects the in-process scripted assistant instead of the hosted API.
const ModeMock = "MOCK"

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Hosted assistant
	Mode           string
	OpenAIBaseURL  string
	AssistantName  string
	AssistantModel string
	AgentTimeout   time.Duration
	RequestTimeout time.Duration

	// Tools
	ToolTimeout        time.Duration
	ToolConcurrency    int
	WebContentMaxChars int
	WikipediaLang      string
	WikipediaBaseURL   string
	DuckDuckGoBaseURL  string
	SearchCacheSize    int
	SearchCacheTTL     time.Duration
	UserAgent          string
	ToolPolicyFile     string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("research")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/research-assistant")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		HTTPPort:           v.GetInt("http_port"),
		DatabaseURL:        v.GetString("database_url"),
		Mode:               v.GetString("research_mode"),
		OpenAIBaseURL:      v.GetString("openai_base_url"),
		AssistantName:      v.GetString("assistant_name"),
		AssistantModel:     v.GetString("assistant_model"),
		AgentTimeout:       millis(v, "agent_timeout_ms"),
		RequestTimeout:     millis(v, "request_timeout_ms"),
		ToolTimeout:        millis(v, "tool_timeout_ms"),
		ToolConcurrency:    v.GetInt("tool_concurrency"),
		WebContentMaxChars: v.GetInt("web_content_max_chars"),
		WikipediaLang:      v.GetString("wikipedia_lang"),
		WikipediaBaseURL:   v.GetString("wikipedia_base_url"),
		DuckDuckGoBaseURL:  v.GetString("duckduckgo_base_url"),
		SearchCacheSize:    v.GetInt("search_cache_size"),
		SearchCacheTTL:     millis(v, "search_cache_ttl_ms"),
		UserAgent:          v.GetString("user_agent"),
		ToolPolicyFile:     v.GetString("tool_policy_file"),
		PingInterval:       millis(v, "ws_ping_interval_ms"),
		WriteTimeout:       millis(v, "ws_write_timeout_ms"),
		ReadTimeout:        millis(v, "ws_read_timeout_ms"),
		MaxMessageSize:     v.GetInt64("ws_max_message_size"),
		LogLevel:           v.GetString("log_level"),
		LogPretty:          v.GetBool("log_pretty"),
	}
	if cfg.WebContentMaxChars <= 0 {
		return nil, fmt.Errorf("web_content_max_chars must be positive, got %d", cfg.WebContentMaxChars)
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = 1
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("database_url", "file:research.db?cache=shared&mode=rwc")
	v.SetDefault("research_mode", "")
	v.SetDefault("openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("assistant_name", "Research Assistant Agent")
	v.SetDefault("assistant_model", "gpt-4o-mini")
	v.SetDefault("agent_timeout_ms", 300000)
	v.SetDefault("request_timeout_ms", 60000)
	v.SetDefault("tool_timeout_ms", 30000)
	v.SetDefault("tool_concurrency", 4)
	v.SetDefault("web_content_max_chars", 10000)
	v.SetDefault("wikipedia_lang", "en")
	v.SetDefault("wikipedia_base_url", "")
	v.SetDefault("duckduckgo_base_url", "https://html.duckduckgo.com")
	v.SetDefault("search_cache_size", 256)
	v.SetDefault("search_cache_ttl_ms", 600000)
	v.SetDefault("user_agent", "research-assistant/0.1 (+https://github.com/banminseok/assistantAPI)")
	v.SetDefault("tool_policy_file", "")
	v.SetDefault("ws_ping_interval_ms", 30000)
	v.SetDefault("ws_write_timeout_ms", 10000)
	v.SetDefault("ws_read_timeout_ms", 60000)
	v.SetDefault("ws_max_message_size", 65536)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}

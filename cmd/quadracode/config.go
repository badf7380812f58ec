package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quadracode/quadracode/runtime/profile"
	"github.com/quadracode/quadracode/runtime/registration"
)

// Environment variables read by the entry point. Store addresses and model
// selection live in the config file; these control process identity and the
// agent surface.
const (
	envProfile           = "QUADRACODE_PROFILE"
	envAutoregister      = "QUADRACODE_AGENT_AUTOREGISTER"
	envAgentHost         = "QUADRACODE_AGENT_HOST"
	envAgentPort         = "QUADRACODE_AGENT_PORT"
	envHeartbeatInterval = "QUADRACODE_AGENT_HEARTBEAT_INTERVAL"

	envAnthropicKey = "ANTHROPIC_API_KEY"
	envOpenAIKey    = "OPENAI_API_KEY"

	defaultAgentPort = 8123
)

type (
	// Config is the optional YAML configuration file loaded at startup.
	// Every section has a workable default except redis, which is the
	// messaging substrate and therefore required.
	Config struct {
		Redis    RedisConfig    `yaml:"redis"`
		Mongo    MongoConfig    `yaml:"mongo"`
		Mailbox  MailboxConfig  `yaml:"mailbox"`
		Model    ModelConfig    `yaml:"model"`
		Registry RegistryConfig `yaml:"registry"`
	}

	// RedisConfig locates the Redis instance backing the mailboxes.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	}

	// MongoConfig locates the shared checkpoint store. When Addr is empty
	// the process falls back to the in-memory checkpointer.
	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	// MailboxConfig tunes the mailbox streams.
	MailboxConfig struct {
		Prefix string `yaml:"prefix"`
		MaxLen int64  `yaml:"max_len"`
	}

	// ModelConfig selects and tunes the model provider.
	ModelConfig struct {
		// Provider is one of anthropic, openai, bedrock.
		Provider    string  `yaml:"provider"`
		Name        string  `yaml:"name"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		// TPM enables the adaptive rate limiter with this tokens-per-minute
		// budget; MaxTPM caps recovery probing.
		TPM    float64 `yaml:"tpm"`
		MaxTPM float64 `yaml:"max_tpm"`
	}

	// RegistryConfig locates the agent registry consumed by agent profiles.
	RegistryConfig struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	}
)

// loadConfig reads the YAML file at path. An empty path yields the zero
// config; a missing explicit file is an error.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// profileName returns the configured profile, defaulting to orchestrator.
func profileName() string {
	if name := strings.TrimSpace(os.Getenv(envProfile)); name != "" {
		return name
	}
	return profile.NameOrchestrator
}

// autoregisterEnabled defaults to true; any non-truthy explicit value
// disables registration.
func autoregisterEnabled() bool {
	v := os.Getenv(envAutoregister)
	if v == "" {
		return true
	}
	return profile.Truthy(v)
}

// agentHost returns the host the agent surface binds and registers.
func agentHost() string {
	if host := strings.TrimSpace(os.Getenv(envAgentHost)); host != "" {
		return host
	}
	return "localhost"
}

// agentPort returns the agent surface port, defaulting to 8123.
func agentPort() int {
	if v := os.Getenv(envAgentPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port
		}
	}
	return defaultAgentPort
}

// heartbeatInterval parses the configured heartbeat cadence; the
// registration package applies the default and the floor.
func heartbeatInterval() time.Duration {
	if v := os.Getenv(envHeartbeatInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return registration.DefaultInterval
}

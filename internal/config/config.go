// Package config loads the profile configuration: backend base URLs, the
// push channel URL and the stored bearer token. Values come from the profile
// config.toml, optionally overridden by environment variables (a .env file
// next to the working directory is honored via godotenv).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all externally supplied endpoints and credentials.
type Config struct {
	// APIURL is the main records-analysis API (auth, projects, groups).
	APIURL string `toml:"api_url"`
	// WhatsappURL is the WhatsApp microservice (sessions, chats, messages).
	WhatsappURL string `toml:"whatsapp_url"`
	// ConversationURL is the conversation/alerts microservice.
	ConversationURL string `toml:"conversation_url"`
	// PushURL is the push channel endpoint (ws:// or wss://).
	PushURL string `toml:"push_url"`
	// Token is the bearer token attached to every REST request.
	Token string `toml:"token"`
	// DefaultProfile names the profile used when --profile is not given.
	DefaultProfile string `toml:"default_profile"`
}

// envOverrides maps environment variable names to config fields.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"WAMON_API_URL", func(c *Config, v string) { c.APIURL = v }},
	{"WAMON_WHATSAPP_URL", func(c *Config, v string) { c.WhatsappURL = v }},
	{"WAMON_CONVERSATION_URL", func(c *Config, v string) { c.ConversationURL = v }},
	{"WAMON_PUSH_URL", func(c *Config, v string) { c.PushURL = v }},
	{"WAMON_TOKEN", func(c *Config, v string) { c.Token = v }},
}

// Load reads config from the given path and applies environment overrides.
// A missing file is not an error when the environment supplies every URL;
// the caller validates completeness for its own needs.
func Load(path string) (*Config, error) {
	// Best effort: a .env in the working directory feeds the overrides below.
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(&cfg, v)
		}
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file carries the bearer token, hence the 0600 mode.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ClearToken removes the stored bearer token from the config file.
// Called when the backend rejects the token (401 with auth markers).
func ClearToken(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg.Token = ""
	return Save(path, cfg)
}

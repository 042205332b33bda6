package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "TWAG"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "twag.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "twag_session"
	defaultNotionBaseURL     = "https://api.notion.com"
	defaultWindowMinutes     = 2
	defaultMutationTimeoutMS = 3000
)

// AppConfig captures runtime configuration for the tap resolution server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	NotionToken        string
	NotionBaseURL      string
	NotionBelongingsDB string
	NotionContainersDB string
	SessionSigningKey  string
	SessionCookieName  string
	InteractionWindow  time.Duration
	MutationTimeout    time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("notion.base_url", defaultNotionBaseURL)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("interaction.window_minutes", defaultWindowMinutes)
	configViper.SetDefault("mutation.timeout_ms", defaultMutationTimeoutMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		NotionToken:        configViper.GetString("notion.token"),
		NotionBaseURL:      configViper.GetString("notion.base_url"),
		NotionBelongingsDB: configViper.GetString("notion.belongings_db"),
		NotionContainersDB: configViper.GetString("notion.containers_db"),
		SessionSigningKey:  configViper.GetString("session.signing_secret"),
		SessionCookieName:  configViper.GetString("session.cookie_name"),
		InteractionWindow:  time.Duration(configViper.GetInt("interaction.window_minutes")) * time.Minute,
		MutationTimeout:    time.Duration(configViper.GetInt("mutation.timeout_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.NotionToken) == "" {
		return fmt.Errorf("notion.token is required")
	}
	if strings.TrimSpace(c.NotionBelongingsDB) == "" {
		return fmt.Errorf("notion.belongings_db is required")
	}
	if strings.TrimSpace(c.NotionContainersDB) == "" {
		return fmt.Errorf("notion.containers_db is required")
	}
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.InteractionWindow <= 0 {
		return fmt.Errorf("interaction.window_minutes must be positive")
	}
	return nil
}

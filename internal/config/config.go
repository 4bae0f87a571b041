// Package config handles Majordomo configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/majordomo/config.yaml, /etc/majordomo/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "majordomo", "config.yaml"))
	}

	paths = append(paths, "/etc/majordomo/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Majordomo configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	LLM          LLMConfig          `yaml:"llm"`
	Agents       AgentsConfig       `yaml:"agents"`
	Pending      PendingConfig      `yaml:"pending"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Lights       LightsConfig       `yaml:"lights"`
	Weather      WeatherConfig      `yaml:"weather"`
	Calendar     CalendarConfig     `yaml:"calendar"`
	Email        EmailConfig        `yaml:"email"`
	News         NewsConfig         `yaml:"news"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the language model providers and models.
type LLMConfig struct {
	// Default is the model used by agents, synthesis, and the general
	// fallback path.
	Default string `yaml:"default"`

	// Classifier is the model used for intent routing. Defaults to Default.
	Classifier string `yaml:"classifier"`

	// Temperature is passed to providers that accept it. The router
	// relies on deterministic output, so the default is 0.
	Temperature float64 `yaml:"temperature"`

	// Timeout bounds every individual model call (default 2m).
	Timeout time.Duration `yaml:"timeout"`

	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Anthropic AnthropicConfig `yaml:"anthropic"`

	// Models maps model names to providers. Models not listed use
	// the openai provider.
	Models []ModelConfig `yaml:"models"`
}

// OpenAIConfig configures an OpenAI-compatible endpoint (OpenAI,
// LM Studio, vLLM, llama.cpp server).
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// OllamaConfig configures a native Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether an Ollama URL was provided.
func (c OllamaConfig) Configured() bool { return c.URL != "" }

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an Anthropic API key was provided.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai, ollama, anthropic
}

// AgentsConfig overrides the built-in agent bindings. Keys are agent
// categories: WEATHER, HOME_AUTOMATION, PERSONAL.
type AgentsConfig map[string]AgentConfig

// AgentConfig overrides one agent binding. Empty fields keep the
// built-in value.
type AgentConfig struct {
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`
}

// PendingConfig controls the confirmation gate for side-effecting actions.
type PendingConfig struct {
	// Backend is "memory" (default) or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Defaults to <data_dir>/pending.db.
	Path string `yaml:"path"`

	// TTL is how long a staged action stays confirmable (default 5m).
	TTL time.Duration `yaml:"ttl"`

	// RequireToken makes /confirm-action reject requests that do not
	// echo the token returned when the action was staged.
	RequireToken bool `yaml:"require_token"`
}

// CapabilitiesConfig holds settings shared by every capability.
type CapabilitiesConfig struct {
	// Timeout bounds a single capability invocation (default 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// LightsConfig selects the light-control backend. The backend is
// chosen once at start-up.
type LightsConfig struct {
	// Backend is one of simulated (default), hue, homeassistant, mqtt.
	Backend string `yaml:"backend"`

	// Devices maps each controllable location (e.g. LIVING_ROOM) to the
	// backend's device identifier: a Hue light name or id, a Home
	// Assistant entity_id, or an MQTT friendly name.
	Devices map[string]string `yaml:"devices"`

	Hue           HueConfig           `yaml:"hue"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
}

// Locations returns the configured location keys in sorted order.
func (c LightsConfig) Locations() []string {
	locs := make([]string, 0, len(c.Devices))
	for k := range c.Devices {
		locs = append(locs, k)
	}
	sort.Strings(locs)
	return locs
}

// HueConfig holds Philips Hue bridge settings.
type HueConfig struct {
	BridgeIP string `yaml:"bridge_ip"`
	Username string `yaml:"username"` // bridge application key
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// MQTTConfig defines the broker used by the mqtt light backend.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://broker:1883 or mqtts://
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // default zigbee2mqtt
}

// WeatherConfig configures the forecast capability.
type WeatherConfig struct {
	// HomeLatitude and HomeLongitude are used when no location is
	// given. They default to $HOME_LAT / $HOME_LON.
	HomeLatitude  float64 `yaml:"home_latitude"`
	HomeLongitude float64 `yaml:"home_longitude"`
	HomeName      string  `yaml:"home_name"`
	Language      string  `yaml:"language"` // geocoding result language
	GeocodingURL  string  `yaml:"geocoding_url"`
	ForecastURL   string  `yaml:"forecast_url"`
}

// CalendarConfig configures the CalDAV calendar capability.
type CalendarConfig struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Calendar  string `yaml:"calendar"` // calendar path; empty = first discovered
	MaxEvents int    `yaml:"max_events"`
}

// Configured reports whether a CalDAV endpoint was provided.
func (c CalendarConfig) Configured() bool { return c.URL != "" }

// EmailConfig configures the IMAP mail capability.
type EmailConfig struct {
	IMAP   IMAPConfig `yaml:"imap"`
	Folder string     `yaml:"folder"`
	Count  int        `yaml:"count"`
}

// Configured reports whether the minimum IMAP settings are present.
func (c EmailConfig) Configured() bool {
	return c.IMAP.Host != "" && c.IMAP.Username != ""
}

// IMAPConfig holds IMAP server connection parameters.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// NewsConfig configures the RSS news capability.
type NewsConfig struct {
	// Feeds maps source keys to RSS/Atom URLs.
	Feeds map[string]string `yaml:"feeds"`

	// Defaults are the source keys compiled when a request names none.
	Defaults []string `yaml:"defaults"`

	// PerFeed is the number of headlines taken from each feed.
	PerFeed int `yaml:"per_feed"`

	// Concurrency limits simultaneous feed fetches.
	Concurrency int `yaml:"concurrency"`
}

// DefaultNewsFeeds is the built-in feed catalog.
func DefaultNewsFeeds() map[string]string {
	return map[string]string{
		"MAIN_STREAM_1_POLITICS":  "https://www.lemonde.fr/politique/rss_full.xml",
		"MAIN_STREAM_1_INTL":      "https://www.lemonde.fr/en/france/rss_full.xml",
		"MAIN_STREAM_2_POLITICS":  "https://www.lefigaro.fr/rss/figaro_politique.xml",
		"PUBLIC_SERVICE_POLITICS": "https://www.franceinfo.fr/politique.rss",
		"PUBLIC_SERVICE_INTL":     "https://www.franceinfo.fr/monde.rss",
		"PUBLIC_SERVICE_ECO":      "https://www.franceinfo.fr/economie.rss",
		"INSTITUTIONAL_SENATE":    "https://www.senat.fr/rss/rapports.xml",
	}
}

// DefaultNewsSelection is the source selection used when a request
// names no sources.
func DefaultNewsSelection() []string {
	return []string{"PUBLIC_SERVICE_POLITICS", "MAIN_STREAM_1_POLITICS", "MAIN_STREAM_2_POLITICS"}
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	var set presence
	if err := yaml.Unmarshal([]byte(expanded), &set); err != nil {
		return nil, err
	}

	cfg.applyDefaults(set)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. It is
// what Load produces for an empty file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(presence{})
	return cfg
}

// presence records which settings whose zero value is meaningful were
// written in the file.
type presence struct {
	Weather struct {
		HomeLatitude  *float64 `yaml:"home_latitude"`
		HomeLongitude *float64 `yaml:"home_longitude"`
	} `yaml:"weather"`
	Email struct {
		IMAP struct {
			TLS *bool `yaml:"tls"`
		} `yaml:"imap"`
	} `yaml:"email"`
}

func (c *Config) applyDefaults(set presence) {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8000
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.LLM.Default == "" {
		c.LLM.Default = "mistral-7b-instruct"
	}
	if c.LLM.Classifier == "" {
		c.LLM.Classifier = c.LLM.Default
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 2 * time.Minute
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = envOr("LLM_URL", "http://localhost:1234/v1")
	}
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = "internal-key"
	}
	for i := range c.LLM.Models {
		if c.LLM.Models[i].Provider == "" {
			c.LLM.Models[i].Provider = "openai"
		}
	}

	if c.Pending.Backend == "" {
		c.Pending.Backend = "memory"
	}
	if c.Pending.Path == "" {
		c.Pending.Path = filepath.Join(c.DataDir, "pending.db")
	}
	if c.Pending.TTL == 0 {
		c.Pending.TTL = 5 * time.Minute
	}

	if c.Capabilities.Timeout == 0 {
		c.Capabilities.Timeout = 30 * time.Second
	}

	if c.Lights.Backend == "" {
		c.Lights.Backend = "simulated"
	}
	if len(c.Lights.Devices) == 0 {
		c.Lights.Devices = map[string]string{
			"LIVING_ROOM": "Hue color lamp 1",
			"BEDROOM":     "Hue color lamp 2",
		}
	}
	if c.Lights.Hue.BridgeIP == "" {
		c.Lights.Hue.BridgeIP = "192.168.1.122"
	}
	if c.Lights.MQTT.TopicPrefix == "" {
		c.Lights.MQTT.TopicPrefix = "zigbee2mqtt"
	}
	if c.Lights.MQTT.ClientID == "" {
		c.Lights.MQTT.ClientID = "majordomo"
	}

	if set.Weather.HomeLatitude == nil {
		c.Weather.HomeLatitude = envFloat("HOME_LAT", 45.1839)
	}
	if set.Weather.HomeLongitude == nil {
		c.Weather.HomeLongitude = envFloat("HOME_LON", 5.7089)
	}
	if c.Weather.HomeName == "" {
		c.Weather.HomeName = "home"
	}
	if c.Weather.Language == "" {
		c.Weather.Language = "en"
	}
	if c.Weather.GeocodingURL == "" {
		c.Weather.GeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	if c.Weather.ForecastURL == "" {
		c.Weather.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}

	if c.Calendar.MaxEvents == 0 {
		c.Calendar.MaxEvents = 10
	}

	if c.Email.IMAP.Port == 0 {
		c.Email.IMAP.Port = 993
	}
	// Unless tls is set, it is on for every port but plaintext 143.
	if set.Email.IMAP.TLS == nil {
		c.Email.IMAP.TLS = c.Email.IMAP.Port != 143
	}
	if c.Email.Folder == "" {
		c.Email.Folder = "INBOX"
	}
	if c.Email.Count == 0 {
		c.Email.Count = 5
	}

	if len(c.News.Feeds) == 0 {
		c.News.Feeds = DefaultNewsFeeds()
	}
	if len(c.News.Defaults) == 0 {
		c.News.Defaults = DefaultNewsSelection()
	}
	if c.News.PerFeed == 0 {
		c.News.PerFeed = 3
	}
	if c.News.Concurrency == 0 {
		c.News.Concurrency = 4
	}
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}

	for i, m := range c.LLM.Models {
		if m.Name == "" {
			return fmt.Errorf("llm.models[%d].name must not be empty", i)
		}
		switch m.Provider {
		case "openai", "ollama", "anthropic":
		default:
			return fmt.Errorf("llm.models[%d] (%s): unknown provider %q", i, m.Name, m.Provider)
		}
		if m.Provider == "anthropic" && !c.LLM.Anthropic.Configured() {
			return fmt.Errorf("llm.models[%d] (%s): anthropic provider requires llm.anthropic.api_key", i, m.Name)
		}
		if m.Provider == "ollama" && !c.LLM.Ollama.Configured() {
			return fmt.Errorf("llm.models[%d] (%s): ollama provider requires llm.ollama.url", i, m.Name)
		}
	}

	switch c.Pending.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("pending.backend %q invalid (valid: memory, sqlite)", c.Pending.Backend)
	}
	if c.Pending.TTL < 0 {
		return fmt.Errorf("pending.ttl must not be negative")
	}

	switch c.Lights.Backend {
	case "simulated":
	case "hue":
		if c.Lights.Hue.Username == "" {
			return fmt.Errorf("lights.hue.username is required for the hue backend")
		}
	case "homeassistant":
		if c.Lights.HomeAssistant.URL == "" || c.Lights.HomeAssistant.Token == "" {
			return fmt.Errorf("lights.homeassistant.url and token are required for the homeassistant backend")
		}
	case "mqtt":
		if c.Lights.MQTT.Broker == "" {
			return fmt.Errorf("lights.mqtt.broker is required for the mqtt backend")
		}
	default:
		return fmt.Errorf("lights.backend %q invalid (valid: simulated, hue, homeassistant, mqtt)", c.Lights.Backend)
	}
	for loc, dev := range c.Lights.Devices {
		if dev == "" {
			return fmt.Errorf("lights.devices[%s] must not be empty", loc)
		}
	}

	for name := range c.Agents {
		switch name {
		case "WEATHER", "HOME_AUTOMATION", "PERSONAL":
		default:
			return fmt.Errorf("agents: unknown agent %q (valid: WEATHER, HOME_AUTOMATION, PERSONAL)", name)
		}
	}

	for _, key := range c.News.Defaults {
		if _, ok := c.News.Feeds[key]; !ok {
			return fmt.Errorf("news.defaults: unknown feed key %q", key)
		}
	}

	if c.Email.Configured() && (c.Email.IMAP.Port < 1 || c.Email.IMAP.Port > 65535) {
		return fmt.Errorf("email.imap.port %d out of range (1-65535)", c.Email.IMAP.Port)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

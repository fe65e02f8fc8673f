package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	PolicyCache          = "cache"
	PolicyRecompute      = "recompute"
	PolicyRefreshNightly = "refresh-nightly"
)

// Config models taskflow.yml.
type Config struct {
	Server struct {
		Addr           string   `yaml:"addr"`
		BasePath       string   `yaml:"base_path"`
		JWTSecret      string   `yaml:"jwt_secret"`
		AllowDevLogin  bool     `yaml:"allow_dev_login"`
		Timezone       string   `yaml:"timezone"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Storage struct {
		Workspace     string `yaml:"workspace"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"storage"`
	Tracking  Tracking  `yaml:"tracking"`
	Analytics Analytics `yaml:"analytics"`
	Events    struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`
	Agent struct {
		BridgeAddr    string   `yaml:"bridge_addr"`
		WindowCommand []string `yaml:"window_command"`
		IdleCommand   []string `yaml:"idle_command"`
	} `yaml:"agent"`
	Categories []CategorySeed `yaml:"categories"`
}

type Tracking struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MinDuration       time.Duration `yaml:"min_duration"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PrivilegedRoles   []string      `yaml:"privileged_roles"`
}

type Analytics struct {
	SummaryPolicy string `yaml:"summary_policy"`
	RefreshCron   string `yaml:"refresh_cron"`
	CleanupCron   string `yaml:"cleanup_cron"`
	TopN          int    `yaml:"top_n"`
}

type CategorySeed struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Color        string   `yaml:"color"`
	Domains      []string `yaml:"domains"`
	Applications []string `yaml:"applications"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.Timezone != "" {
		if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
			return fmt.Errorf("config.server.timezone: %w", err)
		}
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("config.storage.retention_days must be >= 0")
	}
	if c.Tracking.IdleTimeout < 0 {
		return fmt.Errorf("config.tracking.idle_timeout must be >= 0")
	}
	if c.Tracking.HeartbeatInterval < 0 || c.Tracking.PollInterval < 0 || c.Tracking.MinDuration < 0 {
		return fmt.Errorf("config.tracking intervals must be >= 0")
	}
	switch c.Analytics.SummaryPolicy {
	case "", PolicyCache, PolicyRecompute, PolicyRefreshNightly:
	default:
		return fmt.Errorf("config.analytics.summary_policy must be one of %s, %s, %s", PolicyCache, PolicyRecompute, PolicyRefreshNightly)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for path, spec := range map[string]string{
		"config.analytics.refresh_cron": c.Analytics.RefreshCron,
		"config.analytics.cleanup_cron": c.Analytics.CleanupCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if c.Analytics.TopN < 0 {
		return fmt.Errorf("config.analytics.top_n must be >= 0")
	}
	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return fmt.Errorf("config.events.topic is required when brokers are set")
	}
	seen := map[string]bool{}
	for i, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("config.categories[%d].name is required", i)
		}
		switch cat.Type {
		case "productive", "neutral", "distracting":
		default:
			return fmt.Errorf("category %s has invalid type %q", cat.Name, cat.Type)
		}
		if seen[cat.Name] {
			return fmt.Errorf("category %s defined twice", cat.Name)
		}
		seen[cat.Name] = true
	}
	return nil
}

// Location returns the timezone used for day windows.
func (c *Config) Location() *time.Location {
	if c == nil || c.Server.Timezone == "" || c.Server.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Policy returns the summary policy, defaulting to cache.
func (c *Config) Policy() string {
	if c == nil || c.Analytics.SummaryPolicy == "" {
		return PolicyCache
	}
	return c.Analytics.SummaryPolicy
}

// Privileged reports whether any of roles may change tracking settings.
func (c *Config) Privileged(roles []string) bool {
	allowed := []string{"admin"}
	if c != nil && len(c.Tracking.PrivilegedRoles) > 0 {
		allowed = c.Tracking.PrivilegedRoles
	}
	for _, r := range roles {
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskflow.yml")
}

// GenerateDefault returns default config YAML with the given signing secret.
func GenerateDefault(jwtSecret string) string {
	return fmt.Sprintf(defaultTemplate, jwtSecret)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(""))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api
  jwt_secret: "%s"
  allow_dev_login: false
  timezone: Local
  allowed_origins: ["http://localhost:3000"]

storage:
  workspace: .
  retention_days: 0

tracking:
  idle_timeout: 5m
  heartbeat_interval: 30s
  min_duration: 5s
  poll_interval: 2s
  privileged_roles: [admin]

analytics:
  summary_policy: cache
  refresh_cron: "15 0 * * *"
  cleanup_cron: "0 3 * * *"
  top_n: 10

events:
  brokers: []
  topic: taskflow.activity

agent:
  bridge_addr: 127.0.0.1:17345
  window_command: [xdotool, getactivewindow, getwindowname]
  idle_command: [xprintidle]

categories:
  - name: Development
    type: productive
    color: "#4caf50"
    domains: [github.com, gitlab.com, bitbucket.org, stackoverflow.com, stackexchange.com]
    applications: [Visual Studio Code, Code, WebStorm, PyCharm, IntelliJ IDEA, Sublime Text, Atom, Vim, Emacs]
  - name: Documentation
    type: productive
    color: "#2196f3"
    domains: [developer.mozilla.org, docs.python.org, go.dev, pkg.go.dev, docs.github.com, readthedocs.io]
    applications: [Notion, Obsidian]
  - name: Design & Creative
    type: productive
    color: "#9c27b0"
    domains: [figma.com, dribbble.com, behance.net, canva.com]
    applications: [Figma, Adobe Photoshop, Adobe Illustrator, Sketch, GIMP, Inkscape, Blender]
  - name: Project Management
    type: productive
    color: "#ff9800"
    domains: [trello.com, asana.com, jira.atlassian.com, linear.app, monday.com]
    applications: [Jira]
  - name: Communication
    type: neutral
    color: "#00bcd4"
    domains: [slack.com, mail.google.com, outlook.office.com, teams.microsoft.com, discord.com]
    applications: [Slack, Microsoft Teams, Zoom, Discord, Thunderbird]
  - name: Learning
    type: productive
    color: "#8bc34a"
    domains: [coursera.org, udemy.com, edx.org, khanacademy.org, pluralsight.com]
    applications: []
  - name: Social Media
    type: distracting
    color: "#f44336"
    domains: [facebook.com, twitter.com, x.com, instagram.com, reddit.com, tiktok.com, linkedin.com]
    applications: []
  - name: Entertainment
    type: distracting
    color: "#e91e63"
    domains: [youtube.com, netflix.com, twitch.tv, spotify.com, hulu.com]
    applications: [Spotify, VLC]
  - name: News
    type: neutral
    color: "#607d8b"
    domains: [news.ycombinator.com, cnn.com, bbc.com, nytimes.com, theguardian.com]
    applications: []
  - name: Shopping
    type: distracting
    color: "#795548"
    domains: [amazon.com, ebay.com, aliexpress.com, etsy.com]
    applications: []
`

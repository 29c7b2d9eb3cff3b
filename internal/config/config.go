package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Pipeline  PipelineConfig       `yaml:"pipeline"`
	LLM       LLMConfig            `yaml:"llm"`
	Directors []DirectorDefinition `yaml:"directors"`
	Router    RouterConfig         `yaml:"router"`
	Documents DocumentsConfig      `yaml:"documents"`
	Store     StoreConfig          `yaml:"store"`
	NATS      NATSConfig           `yaml:"nats"`
	Web       WebConfig            `yaml:"web"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Briefs    []BriefDefinition    `yaml:"briefs"`
	Telegram  TelegramConfig       `yaml:"telegram"`
	Vault     VaultConfig          `yaml:"vault"`
	Logging   LoggingConfig        `yaml:"logging"`
}

type PipelineConfig struct {
	DefaultTask string `yaml:"default_task"`
	DemoTask    string `yaml:"demo_task"`
	Lead        string `yaml:"lead"`
	Stack       string `yaml:"stack"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "anthropic" or "openrouter"
	APIKey      string        `yaml:"api_key"`  // literal key or "secret:<name>"
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DirectorDefinition configures one director. Name selects the implementation
// (product_owner, staff_engineer, engineering_manager).
type DirectorDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	After       []string `yaml:"after"`
}

type RouterConfig struct {
	Enabled bool   `yaml:"enabled"`
	UseLLM  bool   `yaml:"use_llm"`
	After   string `yaml:"after"`
	Simple  string `yaml:"simple"`
	Complex string `yaml:"complex"`
}

type DocumentsConfig struct {
	Dir string `yaml:"dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Port int `yaml:"port"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BriefDefinition is a task that starts a run on a schedule. Schedule accepts
// a cron expression, "interval:<duration>" or an RFC3339 timestamp.
type BriefDefinition struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Task     string `yaml:"task"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	ProductOwner       = "product_owner"
	StaffEngineer      = "staff_engineer"
	EngineeringManager = "engineering_manager"
)

func defaults() Config {
	return Config{
		Pipeline: PipelineConfig{
			DefaultTask: "Implement login with Google",
			DemoTask:    "Add login with Google",
			Lead:        EngineeringManager,
			Stack:       "NestJS + NextJS + PostgreSQL",
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-haiku-20240307",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     2 * time.Minute,
		},
		Directors: []DirectorDefinition{
			{
				Name:        ProductOwner,
				Description: "Interrogates the client and writes executable specifications",
				MaxTokens:   1500,
			},
			{
				Name:        StaffEngineer,
				Description: "Questions the specifications and defines the architecture",
				MaxTokens:   2500,
				After:       []string{ProductOwner},
			},
			{
				Name:        EngineeringManager,
				Description: "Resolves conflicts and plans the implementation",
				MaxTokens:   2500,
				After:       []string{ProductOwner, StaffEngineer},
			},
		},
		Router: RouterConfig{
			After:   ProductOwner,
			Simple:  EngineeringManager,
			Complex: StaffEngineer,
		},
		Documents: DocumentsConfig{
			Dir: "data/documents",
		},
		Store: StoreConfig{
			Path: "data/directorate.db",
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("DIRECTORATE_CONFIG"); p != "" {
		return p
	}
	return "config/directorate.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file, defaults + env only
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && cfg.LLM.Provider == "openrouter" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DIRECTORATE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DIRECTORATE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DIRECTORATE_DOCUMENTS_DIR"); v != "" {
		cfg.Documents.Dir = v
	}
	if v := os.Getenv("DIRECTORATE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("DIRECTORATE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("DIRECTORATE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("DIRECTORATE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("DIRECTORATE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("DIRECTORATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the director list and the router references. Cycles in the
// "after" graph are detected later when the pipeline plan is built.
func (c *Config) Validate() error {
	if len(c.Directors) == 0 {
		return fmt.Errorf("no directors configured")
	}
	seen := make(map[string]bool, len(c.Directors))
	for _, d := range c.Directors {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("director with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate director %q", d.Name)
		}
		seen[d.Name] = true
	}

	if c.Pipeline.Lead != "" && !seen[c.Pipeline.Lead] {
		return fmt.Errorf("lead director %q is not configured", c.Pipeline.Lead)
	}

	if c.Router.Enabled {
		for _, ref := range []string{c.Router.After, c.Router.Simple, c.Router.Complex} {
			if !seen[ref] {
				return fmt.Errorf("router references unknown director %q", ref)
			}
		}
		if c.Router.Simple == c.Router.Complex {
			return fmt.Errorf("router simple and complex branches must differ")
		}
	}

	for _, b := range c.Briefs {
		if b.Name == "" || b.Schedule == "" || strings.TrimSpace(b.Task) == "" {
			return fmt.Errorf("brief %q needs name, schedule and task", b.Name)
		}
	}
	return nil
}

// Director returns the definition for name.
func (c *Config) Director(name string) (DirectorDefinition, bool) {
	for _, d := range c.Directors {
		if d.Name == name {
			return d, true
		}
	}
	return DirectorDefinition{}, false
}

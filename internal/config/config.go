package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Fanout     FanoutConfig     `yaml:"fanout" mapstructure:"fanout"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Tasks      TasksConfig      `yaml:"tasks" mapstructure:"tasks"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GoogleConfig holds Google Maps Platform settings.
type GoogleConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	PlacesBaseURL string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	MapsBaseURL   string  `yaml:"maps_base_url" mapstructure:"maps_base_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DatabaseConfig configures the shared Postgres pool.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SessionConfig selects and configures the session document backend.
type SessionConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	Dir             string `yaml:"dir" mapstructure:"dir"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Project         string `yaml:"project" mapstructure:"project"`
	Collection      string `yaml:"collection" mapstructure:"collection"`
	ConflictRetries int    `yaml:"conflict_retries" mapstructure:"conflict_retries"`
}

// QueueConfig configures the durable continuation log.
type QueueConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	LeaseSecs   int    `yaml:"lease_secs" mapstructure:"lease_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	PollMillis  int    `yaml:"poll_millis" mapstructure:"poll_millis"`
}

// DiscoveryConfig configures the grid search.
type DiscoveryConfig struct {
	CellMeters     float64  `yaml:"cell_meters" mapstructure:"cell_meters"`
	CooldownSecs   int      `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Categories     []string `yaml:"categories" mapstructure:"categories"`
	CategoriesFile string   `yaml:"categories_file" mapstructure:"categories_file"`
	AuditCells     bool     `yaml:"audit_cells" mapstructure:"audit_cells"`
}

// EnrichConfig configures the batch continuation driver.
type EnrichConfig struct {
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	ExcerptChars int    `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	Continuation string `yaml:"continuation" mapstructure:"continuation"`
}

// FanoutConfig configures delayed trigger scheduling.
type FanoutConfig struct {
	Emitter         string `yaml:"emitter" mapstructure:"emitter"`
	ScoreStepSecs   int    `yaml:"score_step_secs" mapstructure:"score_step_secs"`
	LettersStepSecs int    `yaml:"letters_step_secs" mapstructure:"letters_step_secs"`
	SendStepSecs    int    `yaml:"send_step_secs" mapstructure:"send_step_secs"`
	Credentials     string `yaml:"credentials" mapstructure:"credentials"`
	StaticToken     string `yaml:"static_token" mapstructure:"static_token"`
}

// CrawlConfig configures the contact-page crawler.
type CrawlConfig struct {
	MaxPages      int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth      int      `yaml:"max_depth" mapstructure:"max_depth"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CacheTTLMins  int      `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	RateLimit     float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RespectRobots bool     `yaml:"respect_robots" mapstructure:"respect_robots"`
	UserAgent     string   `yaml:"user_agent" mapstructure:"user_agent"`
	LinkMarkers   []string `yaml:"link_markers" mapstructure:"link_markers"`
}

// OpenAIConfig holds OpenAI API settings for lead scoring.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings for letter generation.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OutreachConfig configures the scoring report and letter stages.
type OutreachConfig struct {
	Threshold        float64 `yaml:"threshold" mapstructure:"threshold"`
	ReportDelaySecs  int     `yaml:"report_delay_secs" mapstructure:"report_delay_secs"`
	HandoffDelaySecs int     `yaml:"handoff_delay_secs" mapstructure:"handoff_delay_secs"`
	ReportSubject    string  `yaml:"report_subject" mapstructure:"report_subject"`
	ReportRecipient  string  `yaml:"report_recipient" mapstructure:"report_recipient"`
	AttachSheet      bool    `yaml:"attach_sheet" mapstructure:"attach_sheet"`
}

// MailConfig configures outbound mail and mailbox replication.
type MailConfig struct {
	Transport      string `yaml:"transport" mapstructure:"transport"`
	SMTPHost       string `yaml:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port" mapstructure:"smtp_port"`
	IMAPHost       string `yaml:"imap_host" mapstructure:"imap_host"`
	IMAPPort       int    `yaml:"imap_port" mapstructure:"imap_port"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	KeyringService string `yaml:"keyring_service" mapstructure:"keyring_service"`
	KeyringAccount string `yaml:"keyring_account" mapstructure:"keyring_account"`
	From           string `yaml:"from" mapstructure:"from"`
	FromName       string `yaml:"from_name" mapstructure:"from_name"`
	SentMailbox    string `yaml:"sent_mailbox" mapstructure:"sent_mailbox"`
	Replicate      bool   `yaml:"replicate" mapstructure:"replicate"`
	GmailTokenFile string `yaml:"gmail_token_file" mapstructure:"gmail_token_file"`
}

// TasksConfig configures the Cloud Tasks emitter.
type TasksConfig struct {
	Project        string `yaml:"project" mapstructure:"project"`
	Location       string `yaml:"location" mapstructure:"location"`
	Queue          string `yaml:"queue" mapstructure:"queue"`
	ServiceAccount string `yaml:"service_account" mapstructure:"service_account"`
}

// TemporalConfig configures the Temporal emitter and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the stage server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	PublicURL      string   `yaml:"public_url" mapstructure:"public_url"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures continuation queue alerting.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	DeadTaskThreshold int    `yaml:"dead_task_threshold" mapstructure:"dead_task_threshold"`
	BacklogThreshold  int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// DefaultCategories are the business categories searched when none are configured.
var DefaultCategories = []string{
	"Financial Companies",
	"Law Firms",
	"Media Companies",
	"Multinational Companies",
	"Consultancies",
	"Governments",
	"DMC (Destination Management Companies)",
	"Relocation Companies",
	"Travel Agencies",
	"Mining Companies",
	"Large Corporations",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.maps_base_url", "https://maps.googleapis.com/maps/api")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("session.driver", "file")
	v.SetDefault("session.prefix", "SESSION")
	v.SetDefault("session.dir", "sessions")
	v.SetDefault("session.collection", "sessions")
	v.SetDefault("session.conflict_retries", 5)
	v.SetDefault("queue.driver", "sqlite")
	v.SetDefault("queue.path", "continuations.db")
	v.SetDefault("queue.lease_secs", 300)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.poll_millis", 1000)
	v.SetDefault("discovery.cell_meters", 2000)
	v.SetDefault("discovery.cooldown_secs", 5)
	v.SetDefault("discovery.categories", DefaultCategories)
	v.SetDefault("enrich.batch_size", 40)
	v.SetDefault("enrich.excerpt_chars", 200)
	v.SetDefault("enrich.concurrency", 40)
	v.SetDefault("enrich.continuation", "queue")
	v.SetDefault("fanout.emitter", "local")
	v.SetDefault("fanout.score_step_secs", 30)
	v.SetDefault("fanout.letters_step_secs", 60)
	v.SetDefault("fanout.send_step_secs", 15)
	v.SetDefault("fanout.credentials", "static")
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.timeout_secs", 15)
	v.SetDefault("crawl.max_body_bytes", 2<<20)
	v.SetDefault("crawl.cache_ttl_mins", 60)
	v.SetDefault("crawl.rate_limit", 2)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("crawl.link_markers", []string{"contact", "mailto:"})
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("outreach.threshold", 50)
	v.SetDefault("outreach.report_delay_secs", 45)
	v.SetDefault("outreach.handoff_delay_secs", 30)
	v.SetDefault("outreach.report_subject", "Analysis")
	v.SetDefault("mail.transport", "smtp")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.imap_port", 993)
	v.SetDefault("mail.sent_mailbox", "Sent")
	v.SetDefault("mail.replicate", true)
	v.SetDefault("mail.keyring_service", "leadgen-mail")
	v.SetDefault("tasks.location", "us-central1")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "leadgen-triggers")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.dead_task_threshold", 1)
	v.SetDefault("monitoring.backlog_threshold", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the keys needed by a command scope are set.
func (c *Config) Validate(scope string) error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	switch scope {
	case "discover":
		need(c.Google.Key != "", "google.key")
		need(c.Discovery.CellMeters > 0, "discovery.cell_meters")
	case "serve":
		need(c.Google.Key != "", "google.key")
		need(c.Server.PublicURL != "", "server.public_url")
		need(c.Enrich.BatchSize > 0, "enrich.batch_size")
		if c.Fanout.Emitter == "tasks" {
			need(c.Tasks.Project != "", "tasks.project")
			need(c.Tasks.Queue != "", "tasks.queue")
			need(c.Tasks.ServiceAccount != "", "tasks.service_account")
		}
	case "worker":
		need(c.Queue.Driver != "", "queue.driver")
		need(c.Google.Key != "", "google.key")
	case "temporal":
		need(c.Temporal.HostPort != "", "temporal.host_port")
		need(c.Temporal.TaskQueue != "", "temporal.task_queue")
	case "mail":
		need(c.Mail.From != "", "mail.from")
		if c.Mail.Transport == "smtp" {
			need(c.Mail.SMTPHost != "", "mail.smtp_host")
			need(c.Mail.Username != "", "mail.username")
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}

	if c.Session.Driver == "postgres" || c.Queue.Driver == "postgres" || c.Discovery.AuditCells {
		need(c.Database.URL != "", "database.url")
	}

	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", scope, strings.Join(missing, ", "))
	}
	return nil
}

// Seconds converts a configured number of seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a configured number of milliseconds to a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ResolvePassword returns the mail password, falling back to the OS keychain
// when no password is configured and a keyring account is set.
func (m MailConfig) ResolvePassword() (string, error) {
	if m.Password != "" {
		return m.Password, nil
	}
	if m.KeyringAccount == "" {
		return "", nil
	}
	pw, err := keyring.Get(m.KeyringService, m.KeyringAccount)
	if err != nil {
		return "", eris.Wrapf(err, "config: keyring lookup %s/%s", m.KeyringService, m.KeyringAccount)
	}
	return pw, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	validLogLevels      = []string{"debug", "info", "warn", "error"}
	validDrivers        = []string{"sqlite", "postgres"}
	validScheduleModes  = []string{"once", "daily", "interval", "cron"}
	validCheckpointKind = []string{CheckpointDatabase, CheckpointMemory, CheckpointRedis}
	dailyAtPattern      = regexp.MustCompile(`^([01]?\d|2[0-3])(:[0-5]\d)?$`)
)

// Checkpoint backends.
const (
	CheckpointDatabase = "database"
	CheckpointMemory   = "memory"
	CheckpointRedis    = "redis"
)

// Environment variables that override file values.
const (
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvDatabaseURI = "DATABASE_URI"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig
	GitHub     GitHubConfig
	Ingest     IngestConfig
	Database   DatabaseConfig
	Schedule   ScheduleConfig
	Checkpoint CheckpointConfig
	Telemetry  TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures GitHub API interactions.
type GitHubConfig struct {
	APIBaseURL       string
	Token            string
	RequestTimeout   time.Duration
	RateLimitBackoff time.Duration
	PageDelay        time.Duration
	RepoDelay        time.Duration
	RepoPageCap      int
	PullCountPageCap int
	MergePageCap     int
	TopRepos         int
	PullSort         string
	PullDirection    string
}

// IngestConfig configures the per-organization ingestion pipeline.
type IngestConfig struct {
	LookbackDays    int
	OrgTimeout      time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
	StartFromID     *int64
}

// DatabaseConfig configures relational storage.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ScheduleConfig configures the periodic ingestion cycle.
type ScheduleConfig struct {
	Mode       string
	DailyAt    string
	Every      time.Duration
	Cron       string
	RunOnStart bool
}

// CheckpointConfig configures run locks and resume cursors.
type CheckpointConfig struct {
	Backend            string
	RedisMode          string
	RedisAddr          string
	RedisMasterSet     string
	RedisSentinelAddrs []string
	RedisPassword      string
	RedisDB            int
	LockTTL            time.Duration
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Load reads configuration from YAML, applies environment overrides, and validates the result.
func Load(reader io.Reader) (*Config, error) {
	return load(reader, os.LookupEnv)
}

func load(reader io.Reader, lookupEnv func(string) (string, bool)) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyEnv(cfg, lookupEnv)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates configuration values.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if c.GitHub.RepoPageCap <= 0 {
		errs = append(errs, "github.repo_page_cap must be > 0")
	}
	if c.GitHub.PullCountPageCap <= 0 {
		errs = append(errs, "github.pull_count_page_cap must be > 0")
	}
	if c.GitHub.MergePageCap <= 0 {
		errs = append(errs, "github.merge_page_cap must be > 0")
	}
	if c.GitHub.TopRepos <= 0 {
		errs = append(errs, "github.top_repos must be > 0")
	}
	if c.GitHub.PullDirection != "asc" && c.GitHub.PullDirection != "desc" {
		errs = append(errs, "github.pull_direction must be asc or desc")
	}

	if c.Ingest.LookbackDays <= 0 {
		errs = append(errs, "ingest.lookback_days must be > 0")
	}
	if c.Ingest.OrgTimeout <= 0 {
		errs = append(errs, "ingest.org_timeout must be > 0")
	}
	if c.Ingest.PersistAttempts <= 0 {
		errs = append(errs, "ingest.persist_attempts must be > 0")
	}
	if c.Ingest.PersistBackoff < 0 {
		errs = append(errs, "ingest.persist_backoff must be >= 0")
	}

	if !slices.Contains(validDrivers, c.Database.Driver) {
		errs = append(errs, "database.driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, "database.dsn is required (or set "+EnvDatabaseURI+")")
	}

	if !slices.Contains(validScheduleModes, c.Schedule.Mode) {
		errs = append(errs, "schedule.mode must be one of once|daily|interval|cron")
	}
	switch c.Schedule.Mode {
	case "daily":
		if !dailyAtPattern.MatchString(c.Schedule.DailyAt) {
			errs = append(errs, "schedule.daily_at must be HH or HH:MM")
		}
	case "interval":
		if c.Schedule.Every <= 0 {
			errs = append(errs, "schedule.every must be > 0 when schedule.mode=interval")
		}
	case "cron":
		if strings.TrimSpace(c.Schedule.Cron) == "" {
			errs = append(errs, "schedule.cron is required when schedule.mode=cron")
		}
	}

	if !slices.Contains(validCheckpointKind, c.Checkpoint.Backend) {
		errs = append(errs, "checkpoint.backend must be database, memory or redis")
	}
	if c.Checkpoint.Backend == CheckpointRedis {
		if c.Checkpoint.RedisMode != "standalone" && c.Checkpoint.RedisMode != "sentinel" {
			errs = append(errs, "checkpoint.redis_mode must be standalone or sentinel")
		}
		if c.Checkpoint.RedisMode == "sentinel" && len(c.Checkpoint.RedisSentinelAddrs) == 0 {
			errs = append(errs, "checkpoint.redis_sentinel_addrs is required when checkpoint.redis_mode=sentinel")
		}
		if c.Checkpoint.RedisMode == "standalone" && strings.TrimSpace(c.Checkpoint.RedisAddr) == "" {
			errs = append(errs, "checkpoint.redis_addr is required when checkpoint.redis_mode=standalone")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// CronSpec translates the schedule into a robfig/cron expression.
// Mode "once" has no recurring spec and returns an empty string.
func (s ScheduleConfig) CronSpec() (string, error) {
	switch s.Mode {
	case "once":
		return "", nil
	case "daily":
		hour, minute, err := parseDailyAt(s.DailyAt)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case "interval":
		if s.Every <= 0 {
			return "", fmt.Errorf("schedule interval must be > 0")
		}
		return "@every " + s.Every.String(), nil
	case "cron":
		return strings.TrimSpace(s.Cron), nil
	default:
		return "", fmt.Errorf("unknown schedule mode %q", s.Mode)
	}
}

func parseDailyAt(raw string) (int, int, error) {
	trimmed := strings.TrimSpace(raw)
	if !dailyAtPattern.MatchString(trimmed) {
		return 0, 0, fmt.Errorf("parse daily_at %q: want HH or HH:MM", raw)
	}
	hourPart, minutePart, hasMinute := strings.Cut(trimmed, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0, 0, fmt.Errorf("parse daily_at hour %q: %w", raw, err)
	}
	minute := 0
	if hasMinute {
		minute, err = strconv.Atoi(minutePart)
		if err != nil {
			return 0, 0, fmt.Errorf("parse daily_at minute %q: %w", raw, err)
		}
	}
	return hour, minute, nil
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	if lookupEnv == nil {
		return
	}
	if token, ok := lookupEnv(EnvGitHubToken); ok && strings.TrimSpace(token) != "" {
		cfg.GitHub.Token = strings.TrimSpace(token)
	}
	if dsn, ok := lookupEnv(EnvDatabaseURI); ok && strings.TrimSpace(dsn) != "" {
		cfg.Database.DSN = strings.TrimSpace(dsn)
		if cfg.Database.Driver == "" && isPostgresDSN(cfg.Database.DSN) {
			cfg.Database.Driver = "postgres"
		}
	}
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}

	if cfg.GitHub.RequestTimeout <= 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.GitHub.RateLimitBackoff <= 0 {
		cfg.GitHub.RateLimitBackoff = 60 * time.Second
	}
	if cfg.GitHub.PageDelay <= 0 {
		cfg.GitHub.PageDelay = time.Second
	}
	if cfg.GitHub.RepoDelay <= 0 {
		cfg.GitHub.RepoDelay = time.Second
	}
	if cfg.GitHub.RepoPageCap == 0 {
		cfg.GitHub.RepoPageCap = 10
	}
	if cfg.GitHub.PullCountPageCap == 0 {
		cfg.GitHub.PullCountPageCap = 20
	}
	if cfg.GitHub.MergePageCap == 0 {
		cfg.GitHub.MergePageCap = 10
	}
	if cfg.GitHub.TopRepos == 0 {
		cfg.GitHub.TopRepos = 5
	}
	if cfg.GitHub.PullSort == "" {
		cfg.GitHub.PullSort = "updated"
	}
	if cfg.GitHub.PullDirection == "" {
		cfg.GitHub.PullDirection = "desc"
	}

	if cfg.Ingest.LookbackDays == 0 {
		cfg.Ingest.LookbackDays = 30
	}
	if cfg.Ingest.OrgTimeout <= 0 {
		cfg.Ingest.OrgTimeout = 10 * time.Minute
	}
	if cfg.Ingest.PersistAttempts == 0 {
		cfg.Ingest.PersistAttempts = 3
	}
	if cfg.Ingest.PersistBackoff == 0 {
		cfg.Ingest.PersistBackoff = 5 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Schedule.Mode == "" {
		cfg.Schedule.Mode = "interval"
	}
	if cfg.Schedule.Mode == "interval" && cfg.Schedule.Every <= 0 {
		cfg.Schedule.Every = 6 * time.Hour
	}
	if cfg.Schedule.Mode == "daily" && cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = "02:00"
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = CheckpointDatabase
	}
	if cfg.Checkpoint.RedisMode == "" {
		cfg.Checkpoint.RedisMode = "standalone"
	}
	if cfg.Checkpoint.LockTTL <= 0 {
		cfg.Checkpoint.LockTTL = 12 * time.Hour
	}
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server     ServerConfig   `yaml:"server"`
	GitHub     rawGitHub      `yaml:"github"`
	Ingest     rawIngest      `yaml:"ingest"`
	Database   DatabaseConfig `yaml:"database"`
	Schedule   rawSchedule    `yaml:"schedule"`
	Checkpoint rawCheckpoint  `yaml:"checkpoint"`
	Telemetry  rawTelemetry   `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL       string   `yaml:"api_base_url"`
	Token            string   `yaml:"token"`
	RequestTimeout   duration `yaml:"request_timeout"`
	RateLimitBackoff duration `yaml:"rate_limit_backoff"`
	PageDelay        duration `yaml:"page_delay"`
	RepoDelay        duration `yaml:"repo_delay"`
	RepoPageCap      int      `yaml:"repo_page_cap"`
	PullCountPageCap int      `yaml:"pull_count_page_cap"`
	MergePageCap     int      `yaml:"merge_page_cap"`
	TopRepos         int      `yaml:"top_repos"`
	PullSort         string   `yaml:"pull_sort"`
	PullDirection    string   `yaml:"pull_direction"`
}

type rawIngest struct {
	LookbackDays    int      `yaml:"lookback_days"`
	OrgTimeout      duration `yaml:"org_timeout"`
	PersistAttempts int      `yaml:"persist_attempts"`
	PersistBackoff  duration `yaml:"persist_backoff"`
	StartFromID     *int64   `yaml:"start_from_id"`
}

type rawSchedule struct {
	Mode       string   `yaml:"mode"`
	DailyAt    string   `yaml:"daily_at"`
	Every      duration `yaml:"every"`
	Cron       string   `yaml:"cron"`
	RunOnStart bool     `yaml:"run_on_start"`
}

type rawCheckpoint struct {
	Backend            string   `yaml:"backend"`
	RedisMode          string   `yaml:"redis_mode"`
	RedisAddr          string   `yaml:"redis_addr"`
	RedisMasterSet     string   `yaml:"redis_master_set"`
	RedisSentinelAddrs []string `yaml:"redis_sentinel_addrs"`
	RedisPassword      string   `yaml:"redis_password"`
	RedisDB            int      `yaml:"redis_db"`
	LockTTL            duration `yaml:"lock_ttl"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:       r.GitHub.APIBaseURL,
			Token:            r.GitHub.Token,
			RequestTimeout:   r.GitHub.RequestTimeout.Duration,
			RateLimitBackoff: r.GitHub.RateLimitBackoff.Duration,
			PageDelay:        r.GitHub.PageDelay.Duration,
			RepoDelay:        r.GitHub.RepoDelay.Duration,
			RepoPageCap:      r.GitHub.RepoPageCap,
			PullCountPageCap: r.GitHub.PullCountPageCap,
			MergePageCap:     r.GitHub.MergePageCap,
			TopRepos:         r.GitHub.TopRepos,
			PullSort:         strings.ToLower(strings.TrimSpace(r.GitHub.PullSort)),
			PullDirection:    strings.ToLower(strings.TrimSpace(r.GitHub.PullDirection)),
		},
		Ingest: IngestConfig{
			LookbackDays:    r.Ingest.LookbackDays,
			OrgTimeout:      r.Ingest.OrgTimeout.Duration,
			PersistAttempts: r.Ingest.PersistAttempts,
			PersistBackoff:  r.Ingest.PersistBackoff.Duration,
			StartFromID:     r.Ingest.StartFromID,
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(r.Database.Driver)),
			DSN:    r.Database.DSN,
		},
		Schedule: ScheduleConfig{
			Mode:       strings.ToLower(strings.TrimSpace(r.Schedule.Mode)),
			DailyAt:    strings.TrimSpace(r.Schedule.DailyAt),
			Every:      r.Schedule.Every.Duration,
			Cron:       r.Schedule.Cron,
			RunOnStart: r.Schedule.RunOnStart,
		},
		Checkpoint: CheckpointConfig{
			Backend:            strings.ToLower(strings.TrimSpace(r.Checkpoint.Backend)),
			RedisMode:          strings.ToLower(strings.TrimSpace(r.Checkpoint.RedisMode)),
			RedisAddr:          r.Checkpoint.RedisAddr,
			RedisMasterSet:     r.Checkpoint.RedisMasterSet,
			RedisSentinelAddrs: r.Checkpoint.RedisSentinelAddrs,
			RedisPassword:      r.Checkpoint.RedisPassword,
			RedisDB:            r.Checkpoint.RedisDB,
			LockTTL:            r.Checkpoint.LockTTL.Duration,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}

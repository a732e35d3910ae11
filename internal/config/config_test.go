package config

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		yaml       string
		wantErr    bool
		errSubstrs []string
	}{
		{
			name: "valid_full_configuration",
			yaml: `
server:
  listen_addr: ":9090"
  log_level: "debug"
github:
  api_base_url: "https://ghe.example.com/api/v3"
  token: "ghp_test"
  request_timeout: "20s"
  rate_limit_backoff: "90s"
  page_delay: "500ms"
  repo_delay: "2s"
  repo_page_cap: 4
  pull_count_page_cap: 8
  merge_page_cap: 6
  top_repos: 3
  pull_sort: "updated"
  pull_direction: "desc"
ingest:
  lookback_days: 14
  org_timeout: "5m"
  persist_attempts: 4
  persist_backoff: "2s"
  start_from_id: 12
database:
  driver: "postgres"
  dsn: "postgres://stats:stats@db:5432/stats?sslmode=disable"
schedule:
  mode: "daily"
  daily_at: "03:30"
  run_on_start: true
checkpoint:
  backend: "redis"
  redis_mode: "sentinel"
  redis_master_set: "mymaster"
  redis_sentinel_addrs: ["sentinel-0:26379", "sentinel-1:26379"]
  redis_db: 2
  lock_ttl: "1d"
telemetry:
  otel_enabled: true
  otel_trace_mode: "sampled"
  otel_trace_sample_ratio: 0.25
`,
		},
		{
			name: "valid_minimal_configuration",
			yaml: `
database:
  dsn: "file:stats.db"
`,
		},
		{
			name: "invalid_log_level",
			yaml: `
server:
  log_level: "trace"
database:
  dsn: "file:stats.db"
`,
			wantErr:    true,
			errSubstrs: []string{"server.log_level"},
		},
		{
			name: "missing_dsn",
			yaml: `
server:
  log_level: "info"
`,
			wantErr:    true,
			errSubstrs: []string{"database.dsn", EnvDatabaseURI},
		},
		{
			name: "invalid_driver_and_direction_are_joined",
			yaml: `
github:
  pull_direction: "sideways"
database:
  driver: "mysql"
  dsn: "root@/stats"
`,
			wantErr:    true,
			errSubstrs: []string{"github.pull_direction", "database.driver", "; "},
		},
		{
			name: "negative_caps_rejected",
			yaml: `
github:
  repo_page_cap: -1
  top_repos: -2
ingest:
  lookback_days: -3
  persist_attempts: -1
database:
  dsn: "file:stats.db"
`,
			wantErr:    true,
			errSubstrs: []string{"github.repo_page_cap", "github.top_repos", "ingest.lookback_days", "ingest.persist_attempts"},
		},
		{
			name: "invalid_daily_at",
			yaml: `
database:
  dsn: "file:stats.db"
schedule:
  mode: "daily"
  daily_at: "25:00"
`,
			wantErr:    true,
			errSubstrs: []string{"schedule.daily_at"},
		},
		{
			name: "cron_mode_requires_expression",
			yaml: `
database:
  dsn: "file:stats.db"
schedule:
  mode: "cron"
`,
			wantErr:    true,
			errSubstrs: []string{"schedule.cron"},
		},
		{
			name: "unknown_schedule_mode",
			yaml: `
database:
  dsn: "file:stats.db"
schedule:
  mode: "hourly"
`,
			wantErr:    true,
			errSubstrs: []string{"schedule.mode"},
		},
		{
			name: "sentinel_requires_addresses",
			yaml: `
database:
  dsn: "file:stats.db"
checkpoint:
  backend: "redis"
  redis_mode: "sentinel"
`,
			wantErr:    true,
			errSubstrs: []string{"checkpoint.redis_sentinel_addrs"},
		},
		{
			name: "standalone_requires_address",
			yaml: `
database:
  dsn: "file:stats.db"
checkpoint:
  backend: "redis"
`,
			wantErr:    true,
			errSubstrs: []string{"checkpoint.redis_addr"},
		},
		{
			name: "unknown_checkpoint_backend",
			yaml: `
database:
  dsn: "file:stats.db"
checkpoint:
  backend: "etcd"
`,
			wantErr:    true,
			errSubstrs: []string{"checkpoint.backend must be database, memory or redis"},
		},
		{
			name: "unknown_field_rejected",
			yaml: `
database:
  dsn: "file:stats.db"
  pool_size: 4
`,
			wantErr:    true,
			errSubstrs: []string{"unmarshal yaml", "pool_size"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := load(strings.NewReader(tc.yaml), noEnv)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				for _, substr := range tc.errSubstrs {
					if !strings.Contains(err.Error(), substr) {
						t.Fatalf("Load() error = %q, missing substring %q", err.Error(), substr)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatalf("Load() returned nil config")
			}
		})
	}
}

func TestLoadAdditionalBehaviors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		reader      io.Reader
		env         map[string]string
		wantErr     bool
		errContains string
		assert      func(t *testing.T, cfg *Config)
	}{
		{
			name:        "nil_reader_returns_error",
			reader:      nil,
			wantErr:     true,
			errContains: "config reader is nil",
		},
		{
			name:        "invalid_yaml_returns_parse_error",
			reader:      strings.NewReader("server: [oops"),
			wantErr:     true,
			errContains: "unmarshal yaml",
		},
		{
			name:   "applies_defaults",
			reader: strings.NewReader("database:\n  dsn: \"file:stats.db\"\n"),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.LogLevel != "info" {
					t.Fatalf("Server.LogLevel = %q, want info", cfg.Server.LogLevel)
				}
				if cfg.Server.ListenAddr != ":8080" {
					t.Fatalf("Server.ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
				}
				if cfg.GitHub.RequestTimeout != 30*time.Second {
					t.Fatalf("GitHub.RequestTimeout = %s, want 30s", cfg.GitHub.RequestTimeout)
				}
				if cfg.GitHub.RateLimitBackoff != 60*time.Second {
					t.Fatalf("GitHub.RateLimitBackoff = %s, want 60s", cfg.GitHub.RateLimitBackoff)
				}
				if cfg.GitHub.PageDelay != time.Second || cfg.GitHub.RepoDelay != time.Second {
					t.Fatalf("GitHub delays = %s/%s, want 1s/1s", cfg.GitHub.PageDelay, cfg.GitHub.RepoDelay)
				}
				if cfg.GitHub.RepoPageCap != 10 || cfg.GitHub.PullCountPageCap != 20 || cfg.GitHub.MergePageCap != 10 {
					t.Fatalf("GitHub page caps = %d/%d/%d, want 10/20/10", cfg.GitHub.RepoPageCap, cfg.GitHub.PullCountPageCap, cfg.GitHub.MergePageCap)
				}
				if cfg.GitHub.TopRepos != 5 {
					t.Fatalf("GitHub.TopRepos = %d, want 5", cfg.GitHub.TopRepos)
				}
				if cfg.GitHub.PullSort != "updated" || cfg.GitHub.PullDirection != "desc" {
					t.Fatalf("GitHub pull order = %s/%s, want updated/desc", cfg.GitHub.PullSort, cfg.GitHub.PullDirection)
				}
				if cfg.Ingest.LookbackDays != 30 {
					t.Fatalf("Ingest.LookbackDays = %d, want 30", cfg.Ingest.LookbackDays)
				}
				if cfg.Ingest.OrgTimeout != 10*time.Minute {
					t.Fatalf("Ingest.OrgTimeout = %s, want 10m", cfg.Ingest.OrgTimeout)
				}
				if cfg.Ingest.PersistAttempts != 3 || cfg.Ingest.PersistBackoff != 5*time.Second {
					t.Fatalf("Ingest persist = %d/%s, want 3/5s", cfg.Ingest.PersistAttempts, cfg.Ingest.PersistBackoff)
				}
				if cfg.Ingest.StartFromID != nil {
					t.Fatalf("Ingest.StartFromID = %v, want nil", *cfg.Ingest.StartFromID)
				}
				if cfg.Database.Driver != "sqlite" {
					t.Fatalf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
				}
				if cfg.Schedule.Mode != "interval" || cfg.Schedule.Every != 6*time.Hour {
					t.Fatalf("Schedule = %s/%s, want interval/6h", cfg.Schedule.Mode, cfg.Schedule.Every)
				}
				if cfg.Checkpoint.Backend != CheckpointDatabase {
					t.Fatalf("Checkpoint.Backend = %q, want %q", cfg.Checkpoint.Backend, CheckpointDatabase)
				}
			},
		},
		{
			name: "parses_day_and_week_durations",
			reader: strings.NewReader(`
ingest:
  org_timeout: "1d"
database:
  dsn: "file:stats.db"
schedule:
  mode: "interval"
  every: "1w"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Ingest.OrgTimeout != 24*time.Hour {
					t.Fatalf("Ingest.OrgTimeout = %s, want %s", cfg.Ingest.OrgTimeout, 24*time.Hour)
				}
				if cfg.Schedule.Every != 7*24*time.Hour {
					t.Fatalf("Schedule.Every = %s, want %s", cfg.Schedule.Every, 7*24*time.Hour)
				}
			},
		},
		{
			name:   "environment_overrides_token_and_dsn",
			reader: strings.NewReader("github:\n  token: \"from-file\"\ndatabase:\n  dsn: \"file:stats.db\"\n"),
			env: map[string]string{
				EnvGitHubToken: "from-env",
				EnvDatabaseURI: "postgres://stats@db/stats",
			},
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.Token != "from-env" {
					t.Fatalf("GitHub.Token = %q, want from-env", cfg.GitHub.Token)
				}
				if cfg.Database.DSN != "postgres://stats@db/stats" {
					t.Fatalf("Database.DSN = %q, want env value", cfg.Database.DSN)
				}
				if cfg.Database.Driver != "postgres" {
					t.Fatalf("Database.Driver = %q, want postgres", cfg.Database.Driver)
				}
			},
		},
		{
			name:   "blank_environment_values_ignored",
			reader: strings.NewReader("github:\n  token: \"from-file\"\ndatabase:\n  dsn: \"file:stats.db\"\n"),
			env:    map[string]string{EnvGitHubToken: "  "},
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.Token != "from-file" {
					t.Fatalf("GitHub.Token = %q, want from-file", cfg.GitHub.Token)
				}
			},
		},
		{
			name:   "environment_dsn_satisfies_validation",
			reader: strings.NewReader("server:\n  log_level: \"warn\"\n"),
			env:    map[string]string{EnvDatabaseURI: "file:/data/stats.db"},
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Database.Driver != "sqlite" {
					t.Fatalf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
				}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			lookup := func(key string) (string, bool) {
				value, ok := tc.env[key]
				return value, ok
			}
			cfg, err := load(tc.reader, lookup)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("Load() error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestScheduleCronSpec(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		schedule ScheduleConfig
		want     string
		wantErr  bool
	}{
		{name: "once_has_no_spec", schedule: ScheduleConfig{Mode: "once"}, want: ""},
		{name: "daily_hour_minute", schedule: ScheduleConfig{Mode: "daily", DailyAt: "02:00"}, want: "0 2 * * *"},
		{name: "daily_hour_only", schedule: ScheduleConfig{Mode: "daily", DailyAt: "7"}, want: "0 7 * * *"},
		{name: "daily_invalid", schedule: ScheduleConfig{Mode: "daily", DailyAt: "noon"}, wantErr: true},
		{name: "interval", schedule: ScheduleConfig{Mode: "interval", Every: 6 * time.Hour}, want: "@every 6h0m0s"},
		{name: "interval_zero", schedule: ScheduleConfig{Mode: "interval"}, wantErr: true},
		{name: "raw_cron", schedule: ScheduleConfig{Mode: "cron", Cron: " */15 * * * * "}, want: "*/15 * * * *"},
		{name: "unknown_mode", schedule: ScheduleConfig{Mode: "weekly"}, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := tc.schedule.CronSpec()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("CronSpec() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("CronSpec() unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("CronSpec() = %q, want %q", got, tc.want)
			}
		})
	}
}

func noEnv(string) (string, bool) {
	return "", false
}

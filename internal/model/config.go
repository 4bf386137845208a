package model

import "time"

// Config is the full pipeline configuration tree. Components take the slice
// of it they need; the CLI assembles it from flags, env, and config file.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reason    ReasonConfig    `yaml:"reason" mapstructure:"reason"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Release   ReleaseConfig   `yaml:"release" mapstructure:"release"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Authority AuthorityConfig `yaml:"authority" mapstructure:"authority"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// StoreConfig selects and addresses the backing database
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ReasonConfig configures the reasoning-function provider
type ReasonConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"-" mapstructure:"api_key"` // Never written to config files
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	HTTPProxy   string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// ReviewConfig holds the gate thresholds. All tunable: these are policy
// knobs, not constants.
type ReviewConfig struct {
	AutoApproveThreshold float64       `yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
	GracePeriod          time.Duration `yaml:"grace_period" mapstructure:"grace_period"` // Min rule age before auto-approval
	SLAT0                time.Duration `yaml:"sla_t0" mapstructure:"sla_t0"`             // Review deadline per tier
	SLAT1                time.Duration `yaml:"sla_t1" mapstructure:"sla_t1"`
	SLAT2                time.Duration `yaml:"sla_t2" mapstructure:"sla_t2"`
	SLAT3                time.Duration `yaml:"sla_t3" mapstructure:"sla_t3"`
	BlockedDomains       []string      `yaml:"blocked_domains" mapstructure:"blocked_domains"` // Domains composition refuses outright
}

// SLAForTier returns the review deadline window for a tier
func (c ReviewConfig) SLAForTier(t RiskTier) time.Duration {
	switch t.Rank() {
	case TierT0.Rank():
		return c.SLAT0
	case TierT1.Rank():
		return c.SLAT1
	case TierT2.Rank():
		return c.SLAT2
	default:
		return c.SLAT3
	}
}

// ReleaseConfig configures publication side effects
type ReleaseConfig struct {
	NotifyURL string `yaml:"notify_url,omitempty" mapstructure:"notify_url"` // Optional webhook, failures never block publish
}

// QueueConfig tunes the job orchestration layer
type QueueConfig struct {
	WorkerCount        int           `yaml:"worker_count" mapstructure:"worker_count"` // Goroutines per queue
	LeaseDuration      time.Duration `yaml:"lease_duration" mapstructure:"lease_duration"`
	MaxAttempts        int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff        time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	RatePerSecond      float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"` // Per-queue dispatch rate
	RateBurst          int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	PollMinIdle        time.Duration `yaml:"poll_min_idle" mapstructure:"poll_min_idle"` // Drainer backoff floor
	PollMaxIdle        time.Duration `yaml:"poll_max_idle" mapstructure:"poll_max_idle"` // Drainer backoff ceiling
	DeadLetterAlertMin int           `yaml:"dead_letter_alert_min" mapstructure:"dead_letter_alert_min"`
}

// CacheConfig controls the document-content byte cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"` // Disk layer location, empty = memory only
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// TaxonomyConfig controls concept-slug lookup caching
type TaxonomyConfig struct {
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" mapstructure:"snapshot_ttl"`
}

// AuthorityConfig maps source hosts and title patterns onto the regulatory
// hierarchy. Host lists match by suffix, so "gov.hr" covers its subdomains.
type AuthorityConfig struct {
	StatuteHosts   []string          `yaml:"statute_hosts" mapstructure:"statute_hosts"`
	GuidanceHosts  []string          `yaml:"guidance_hosts" mapstructure:"guidance_hosts"`
	ProcedureHosts []string          `yaml:"procedure_hosts" mapstructure:"procedure_hosts"`
	HostMap        map[string]string `yaml:"host_map,omitempty" mapstructure:"host_map"` // Exact-host overrides, value is a level name
	TitlePatterns  []TitlePattern    `yaml:"title_patterns" mapstructure:"title_patterns"`
}

// TitlePattern classifies documents by title when the host is inconclusive
type TitlePattern struct {
	Pattern string `yaml:"pattern" mapstructure:"pattern"` // Regular expression over the title
	Level   string `yaml:"level" mapstructure:"level"`     // statute, guidance, procedure, practice
}

// OutputConfig controls CLI chatter
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns the standard configuration
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "normativ.db",
		},
		Reason: ReasonConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     90 * time.Second,
			MaxTokens:   2000,
			Temperature: 0.1,
		},
		Review: ReviewConfig{
			AutoApproveThreshold: 0.90,
			GracePeriod:          24 * time.Hour,
			SLAT0:                72 * time.Hour,
			SLAT1:                120 * time.Hour,
			SLAT2:                168 * time.Hour,
			SLAT3:                168 * time.Hour,
		},
		Queue: QueueConfig{
			WorkerCount:        4,
			LeaseDuration:      2 * time.Minute,
			MaxAttempts:        3,
			BaseBackoff:        5 * time.Second,
			MaxBackoff:         5 * time.Minute,
			RatePerSecond:      5,
			RateBurst:          10,
			PollMinIdle:        500 * time.Millisecond,
			PollMaxIdle:        30 * time.Second,
			DeadLetterAlertMin: 1,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 15 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Taxonomy: TaxonomyConfig{
			SnapshotTTL: 10 * time.Minute,
		},
		Authority: AuthorityConfig{
			StatuteHosts:   []string{"narodne-novine.nn.hr", "zakon.hr"},
			GuidanceHosts:  []string{"porezna-uprava.gov.hr", "mfin.gov.hr", "carina.gov.hr"},
			ProcedureHosts: []string{"gov.hr"},
			TitlePatterns: []TitlePattern{
				{Pattern: `(?i)^(zakon|pravilnik|uredba|odluka) o`, Level: "statute"},
				{Pattern: `(?i)(mišljenje|uputa|smjernic)`, Level: "guidance"},
				{Pattern: `(?i)(postupak|obrazac|zahtjev)`, Level: "procedure"},
			},
		},
	}
}

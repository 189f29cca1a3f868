package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig         `yaml:"store" mapstructure:"store"`
	Log         LogConfig           `yaml:"log" mapstructure:"log"`
	Server      ServerConfig        `yaml:"server" mapstructure:"server"`
	Addresses   AddressConfig       `yaml:"addresses" mapstructure:"addresses"`
	Roles       map[string][]string `yaml:"roles" mapstructure:"roles"`
	Pool        PoolConfig          `yaml:"pool" mapstructure:"pool"`
	Arbitration ArbitrationConfig   `yaml:"arbitration" mapstructure:"arbitration"`
	Reputation  ReputationConfig    `yaml:"reputation" mapstructure:"reputation"`
	Oracle      OracleConfig        `yaml:"oracle" mapstructure:"oracle"`
	Delegated   []DelegatedConfig   `yaml:"delegated" mapstructure:"delegated"`
	Ledger      LedgerConfig        `yaml:"ledger" mapstructure:"ledger"`
	Methodology MethodologyConfig   `yaml:"methodology" mapstructure:"methodology"`
	Temporal    TemporalConfig      `yaml:"temporal" mapstructure:"temporal"`
	Retry       RetryConfig         `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	JWTSecret    string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTLMins int      `yaml:"token_ttl_mins" mapstructure:"token_ttl_mins"`
}

// AddressConfig names the component addresses callers see.
type AddressConfig struct {
	Orchestrator        string `yaml:"orchestrator" mapstructure:"orchestrator"`
	Council             string `yaml:"council" mapstructure:"council"`
	MethodologyRegistry string `yaml:"methodology_registry" mapstructure:"methodology_registry"`
}

// PoolConfig configures the verifier pool.
type PoolConfig struct {
	MinStake               int64  `yaml:"min_stake" mapstructure:"min_stake"`
	InitialReputation      int64  `yaml:"initial_reputation" mapstructure:"initial_reputation"`
	SlashReputationPenalty int64  `yaml:"slash_reputation_penalty" mapstructure:"slash_reputation_penalty"`
	Selection              string `yaml:"selection" mapstructure:"selection"`
}

// ArbitrationConfig configures dispute proceedings.
type ArbitrationConfig struct {
	JurySize            int   `yaml:"jury_size" mapstructure:"jury_size"`
	Quorum              int   `yaml:"quorum" mapstructure:"quorum"`
	VotingPeriodSecs    int   `yaml:"voting_period_secs" mapstructure:"voting_period_secs"`
	ChallengeWindowSecs int   `yaml:"challenge_window_secs" mapstructure:"challenge_window_secs"`
	SlashAmount         int64 `yaml:"slash_amount" mapstructure:"slash_amount"`
	JurorReward         int64 `yaml:"juror_reward" mapstructure:"juror_reward"`
}

// VotingPeriod returns the voting period as a duration.
func (a ArbitrationConfig) VotingPeriod() time.Duration {
	return time.Duration(a.VotingPeriodSecs) * time.Second
}

// ChallengeWindow returns the challenge window as a duration.
func (a ArbitrationConfig) ChallengeWindow() time.Duration {
	return time.Duration(a.ChallengeWindowSecs) * time.Second
}

// ReputationConfig configures the reputation-weighted module.
type ReputationConfig struct {
	Address           string  `yaml:"address" mapstructure:"address"`
	Assignees         int     `yaml:"assignees" mapstructure:"assignees"`
	QuorumBps         int64   `yaml:"quorum_bps" mapstructure:"quorum_bps"`
	Tolerance         float64 `yaml:"tolerance" mapstructure:"tolerance"`
	RewardReputation  int64   `yaml:"reward_reputation" mapstructure:"reward_reputation"`
	PenaltyReputation int64   `yaml:"penalty_reputation" mapstructure:"penalty_reputation"`
}

// OracleConfig configures the oracle-aggregated module and its poller.
type OracleConfig struct {
	Address          string            `yaml:"address" mapstructure:"address"`
	Operator         string            `yaml:"operator" mapstructure:"operator"`
	Feeds            map[string]string `yaml:"feeds" mapstructure:"feeds"`
	Quorum           int               `yaml:"quorum" mapstructure:"quorum"`
	MaxStalenessSecs int               `yaml:"max_staleness_secs" mapstructure:"max_staleness_secs"`
	UnitsPerMeasure  float64           `yaml:"units_per_measure" mapstructure:"units_per_measure"`
	Cap              int64             `yaml:"cap" mapstructure:"cap"`
	Sources          []SourceConfig    `yaml:"sources" mapstructure:"sources"`
	PollIntervalSecs int               `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	Concurrency      int               `yaml:"concurrency" mapstructure:"concurrency"`
	BreakerThreshold int               `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownS int               `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// MaxStaleness returns the staleness bound as a duration.
func (o OracleConfig) MaxStaleness() time.Duration {
	return time.Duration(o.MaxStalenessSecs) * time.Second
}

// SourceConfig is an HTTP endpoint polled for one feed.
type SourceConfig struct {
	Feed       string  `yaml:"feed" mapstructure:"feed"`
	URL        string  `yaml:"url" mapstructure:"url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// DelegatedConfig configures one delegated module.
type DelegatedConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
	Name    string `yaml:"name" mapstructure:"name"`
	Target  string `yaml:"target" mapstructure:"target"`
}

// LedgerConfig configures credit issuance.
type LedgerConfig struct {
	ReversalPolicy string `yaml:"reversal_policy" mapstructure:"reversal_policy"`
}

// MethodologyConfig configures the methodology catalog.
type MethodologyConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
	// Registries lists additional registry addresses the orchestrator may
	// be switched to.
	Registries []string `yaml:"registries" mapstructure:"registries"`
}

// TemporalConfig configures the deadline keeper worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
}

// RetryConfig configures transaction retry on transient store errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DMRV")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dmrv.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.token_ttl_mins", 60)
	v.SetDefault("addresses.orchestrator", "0xorchestrator")
	v.SetDefault("addresses.council", "0xcouncil")
	v.SetDefault("addresses.methodology_registry", "0xmethodology")
	v.SetDefault("pool.min_stake", 100)
	v.SetDefault("pool.initial_reputation", 10)
	v.SetDefault("pool.slash_reputation_penalty", 5)
	v.SetDefault("pool.selection", "weighted")
	v.SetDefault("arbitration.jury_size", 3)
	v.SetDefault("arbitration.quorum", 3)
	v.SetDefault("arbitration.voting_period_secs", 72*3600)
	v.SetDefault("arbitration.challenge_window_secs", 14*24*3600)
	v.SetDefault("arbitration.slash_amount", 50)
	v.SetDefault("arbitration.juror_reward", 1)
	v.SetDefault("reputation.address", "0xreputation")
	v.SetDefault("reputation.assignees", 3)
	v.SetDefault("reputation.quorum_bps", 6600)
	v.SetDefault("reputation.tolerance", 0.05)
	v.SetDefault("reputation.reward_reputation", 2)
	v.SetDefault("reputation.penalty_reputation", 1)
	v.SetDefault("oracle.address", "0xoracle")
	v.SetDefault("oracle.quorum", 1)
	v.SetDefault("oracle.max_staleness_secs", 3600)
	v.SetDefault("oracle.units_per_measure", 1.0)
	v.SetDefault("oracle.poll_interval_secs", 300)
	v.SetDefault("oracle.concurrency", 4)
	v.SetDefault("oracle.breaker_threshold", 5)
	v.SetDefault("oracle.breaker_cooldown_secs", 60)
	v.SetDefault("ledger.reversal_policy", "holder_balance")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "dmrv-keeper")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 50)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("retry.multiplier", 2.0)
}

// Validate checks the settings every command needs plus those of mode:
// "serve", "keeper" or "cli". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}
	if c.Addresses.Orchestrator == "" || c.Addresses.Council == "" || c.Addresses.MethodologyRegistry == "" {
		add("addresses.orchestrator, addresses.council and addresses.methodology_registry are required")
	}
	if c.Arbitration.JurySize < 1 {
		add("arbitration.jury_size must be >= 1")
	}
	if c.Arbitration.Quorum > c.Arbitration.JurySize {
		add("arbitration.quorum must not exceed arbitration.jury_size")
	}
	if c.Reputation.QuorumBps < 1 || c.Reputation.QuorumBps > 10000 {
		add("reputation.quorum_bps must be between 1 and 10000")
	}
	if c.Reputation.Tolerance < 0 {
		add("reputation.tolerance must be >= 0")
	}
	switch c.Ledger.ReversalPolicy {
	case "holder_balance", "clawback":
	default:
		add("ledger.reversal_policy must be holder_balance or clawback, got %q", c.Ledger.ReversalPolicy)
	}
	switch c.Pool.Selection {
	case "weighted", "round_robin":
	default:
		add("pool.selection must be weighted or round_robin, got %q", c.Pool.Selection)
	}
	for _, src := range c.Oracle.Sources {
		if _, ok := c.Oracle.Feeds[src.Feed]; !ok {
			add("oracle source %s names unknown feed %q", src.URL, src.Feed)
		}
	}
	for _, d := range c.Delegated {
		if d.Address == "" || d.Target == "" {
			add("delegated modules need an address and a target")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.JWTSecret == "" {
			add("server.jwt_secret is required")
		}
	case "keeper":
		if c.Temporal.HostPort == "" {
			add("temporal.host_port is required")
		}
	case "cli":
	default:
		add("unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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

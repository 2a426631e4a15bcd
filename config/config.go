package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Security   SecurityConfig   `mapstructure:"security"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Guild      GuildConfig      `mapstructure:"guild"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts /api/admin to these client IPs. Empty allows all.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	MaxOpen      int           `mapstructure:"max_open"`
	MaxIdle      int           `mapstructure:"max_idle"`
	MaxLife      time.Duration `mapstructure:"max_life"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// ReputationConfig tunes the faction reputation engine.
type ReputationConfig struct {
	HistoryLimit   int           `mapstructure:"history_limit"`
	DecayGrace     time.Duration `mapstructure:"decay_grace"`
	DecayRate      float64       `mapstructure:"decay_rate"`
	DecaySchedule  string        `mapstructure:"decay_schedule"` // cron spec
	StandingTTL    time.Duration `mapstructure:"standing_ttl"`
	WriteLeaseTTL  time.Duration `mapstructure:"write_lease_ttl"`
	WriteLeaseWait time.Duration `mapstructure:"write_lease_wait"`
	ConsequenceCap int           `mapstructure:"consequence_cap"`
	// Relations overrides the seeded faction graph when non-empty.
	Relations []FactionRelationConfig `mapstructure:"relations"`
}

type FactionRelationConfig struct {
	From     string  `mapstructure:"from"`
	To       string  `mapstructure:"to"`
	Kind     string  `mapstructure:"kind"` // ALLIED | ENEMY | NEUTRAL
	Strength float64 `mapstructure:"strength"`
}

// GuildConfig holds guild governance limits.
type GuildConfig struct {
	MinFounderLevel    int           `mapstructure:"min_founder_level"`
	DefaultMaxMembers  int           `mapstructure:"default_max_members"`
	LeaseTTL           time.Duration `mapstructure:"lease_ttl"`
	LeaseWait          time.Duration `mapstructure:"lease_wait"`
	LeaderboardRefresh time.Duration `mapstructure:"leaderboard_refresh"`
	EventPageSize      int           `mapstructure:"event_page_size"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/governance.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("database.query_timeout", "5s")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("reputation.history_limit", 100)
	v.SetDefault("reputation.decay_grace", "168h")
	v.SetDefault("reputation.decay_rate", 1.0)
	v.SetDefault("reputation.decay_schedule", "@daily")
	v.SetDefault("reputation.standing_ttl", "10m")
	v.SetDefault("reputation.write_lease_ttl", "5s")
	v.SetDefault("reputation.write_lease_wait", "2s")
	v.SetDefault("reputation.consequence_cap", 200)
	v.SetDefault("guild.min_founder_level", 10)
	v.SetDefault("guild.default_max_members", 50)
	v.SetDefault("guild.lease_ttl", "10s")
	v.SetDefault("guild.lease_wait", "2s")
	v.SetDefault("guild.leaderboard_refresh", "5m")
	v.SetDefault("guild.event_page_size", 20)
}

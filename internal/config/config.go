package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	LeaseSecret   string
	LeaseTTL      time.Duration
	WebhookSecret string
}

// LicensingConfig carries every abuse-gate threshold as a plain value so
// tests construct it directly instead of reaching for ambient state.
type LicensingConfig struct {
	TrialDays        int
	DeviceCapDefault int
	IPDailyMax       int
	UserDailyMax     int
	ChurnWindow      time.Duration
	ChurnThreshold   int
}

type BillingConfig struct {
	ProcessorBaseURL string
	ProcessorAPIKey  string
	ReconcileEvery   time.Duration
}

// RolloutConfig stages update availability. Percentage is the default;
// Channels overrides it per update channel (e.g. beta at 100 while
// stable ramps).
type RolloutConfig struct {
	Percentage int
	Channels   map[string]int
}

type RetentionConfig struct {
	RateWindows time.Duration
	RiskEvents  time.Duration
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Licensing        LicensingConfig
	Billing          BillingConfig
	Rollout          RolloutConfig
	Retention        RetentionConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("KEYGATE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.leasettl", "12h")

	v.SetDefault("licensing.trialdays", 14)
	v.SetDefault("licensing.devicecapdefault", 3)
	v.SetDefault("licensing.ipdailymax", 20)
	v.SetDefault("licensing.userdailymax", 5)
	v.SetDefault("licensing.churnwindow", "60m")
	v.SetDefault("licensing.churnthreshold", 3)

	v.SetDefault("billing.reconcileevery", "1h")

	v.SetDefault("rollout.percentage", 100)

	v.SetDefault("retention.ratewindows", "720h") // 30 days
	v.SetDefault("retention.riskevents", "2160h") // 90 days
}

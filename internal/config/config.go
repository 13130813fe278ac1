// Package config loads service configuration from defaults, an optional YAML
// file and DISBURSA_* environment variables.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server       Server       `yaml:"server"`
	Postgres     Postgres     `yaml:"postgres"`
	Auth         Auth         `yaml:"auth"`
	Logging      Logging      `yaml:"logging"`
	NATS         NATS         `yaml:"nats"`
	Rate         Rate         `yaml:"rate"`
	Organization Organization `yaml:"organization"`
	Billing      Billing      `yaml:"billing"`
}

// Server holds HTTP and gRPC listener settings.
type Server struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Postgres selects the storage backend. An empty DSN runs on the in-memory store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// Auth configures bearer tokens.
type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// DevSignatures accepts any wallet signature. Development only.
	DevSignatures bool `yaml:"dev_signatures"`
	// IngestKey authenticates the screening matcher on the ingest endpoint.
	// Empty disables the endpoint.
	IngestKey string `yaml:"ingest_key"`
}

// Logging configures the shared zerolog logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATS configures the optional disbursement event sink. Empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Rate configures per-client request limiting.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Organization holds defaults applied when an organization is created.
type Organization struct {
	TrialLength          time.Duration    `yaml:"trial_length"`
	FeeToken             string           `yaml:"fee_token"`
	FeeMode              string           `yaml:"fee_mode"`
	ScreeningEnforcement string           `yaml:"screening_enforcement"`
	SeedBeneficiary      *SeedBeneficiary `yaml:"seed_beneficiary"`
}

// SeedBeneficiary is registered in every new organization when set.
type SeedBeneficiary struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Type    string `yaml:"type"`
	Notes   string `yaml:"notes"`
}

// Billing holds subscription settings.
type Billing struct {
	PaidPeriod time.Duration `yaml:"paid_period"`
}

// Defaults returns a Config with development defaults.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: Postgres{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Auth: Auth{
			TokenTTL: time.Hour,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		NATS: NATS{
			SubjectPrefix: "disbursa",
		},
		Rate: Rate{
			RequestsPerSecond: 20,
			Burst:             40,
			IdleTTL:           10 * time.Minute,
		},
		Organization: Organization{
			TrialLength:          14 * 24 * time.Hour,
			FeeToken:             "USDC",
			FeeMode:              "sponsored",
			ScreeningEnforcement: "off",
		},
		Billing: Billing{
			PaidPeriod: 30 * 24 * time.Hour,
		},
	}
}

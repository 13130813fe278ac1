package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "disbursa.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path comes from DISBURSA_CONFIG, falling back to DefaultConfigFile.
func Load() (*Config, error) {
	path := os.Getenv("DISBURSA_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. A missing file is not an error.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "DISBURSA_ADDR")
	setString(&cfg.Server.GRPCAddr, "DISBURSA_GRPC_ADDR")
	setList(&cfg.Server.CORSOrigins, "DISBURSA_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "DISBURSA_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "DISBURSA_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "DISBURSA_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DISBURSA_PG_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "DISBURSA_PG_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "DISBURSA_PG_MAX_IDLE_CONNS")
	setDuration(&cfg.Postgres.ConnMaxLifetime, "DISBURSA_PG_CONN_MAX_LIFETIME")
	setBool(&cfg.Postgres.AutoMigrate, "DISBURSA_PG_AUTO_MIGRATE")

	setString(&cfg.Auth.Secret, "DISBURSA_AUTH_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "DISBURSA_AUTH_TOKEN_TTL")
	setBool(&cfg.Auth.DevSignatures, "DISBURSA_AUTH_DEV_SIGNATURES")
	setString(&cfg.Auth.IngestKey, "DISBURSA_SCREENING_INGEST_KEY")

	setString(&cfg.Logging.Level, "DISBURSA_LOG_LEVEL")
	setString(&cfg.Logging.Format, "DISBURSA_LOG_FORMAT")

	setString(&cfg.NATS.URL, "DISBURSA_NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "DISBURSA_NATS_SUBJECT_PREFIX")

	setFloat64(&cfg.Rate.RequestsPerSecond, "DISBURSA_RATE_RPS")
	setInt(&cfg.Rate.Burst, "DISBURSA_RATE_BURST")
	setDuration(&cfg.Rate.IdleTTL, "DISBURSA_RATE_IDLE_TTL")
	setList(&cfg.Rate.TrustedProxies, "DISBURSA_RATE_TRUSTED_PROXIES")

	setDuration(&cfg.Organization.TrialLength, "DISBURSA_TRIAL_LENGTH")
	setString(&cfg.Organization.FeeToken, "DISBURSA_FEE_TOKEN")
	setString(&cfg.Organization.FeeMode, "DISBURSA_FEE_MODE")
	setString(&cfg.Organization.ScreeningEnforcement, "DISBURSA_SCREENING_ENFORCEMENT")
	if addr := os.Getenv("DISBURSA_SEED_BENEFICIARY_ADDRESS"); addr != "" {
		seed := &SeedBeneficiary{Address: addr, Name: "Treasury", Type: "business"}
		if cfg.Organization.SeedBeneficiary != nil {
			*seed = *cfg.Organization.SeedBeneficiary
			seed.Address = addr
		}
		setString(&seed.Name, "DISBURSA_SEED_BENEFICIARY_NAME")
		cfg.Organization.SeedBeneficiary = seed
	}

	setDuration(&cfg.Billing.PaidPeriod, "DISBURSA_BILLING_PAID_PERIOD")
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be > 0")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Rate.RequestsPerSecond <= 0 {
		return errors.New("rate.requests_per_second must be > 0")
	}
	if cfg.Organization.TrialLength <= 0 {
		return errors.New("organization.trial_length must be > 0")
	}
	if cfg.Billing.PaidPeriod <= 0 {
		return errors.New("billing.paid_period must be > 0")
	}
	switch cfg.Organization.FeeMode {
	case "", "sponsored", "safe":
	default:
		return fmt.Errorf("organization.fee_mode %q must be sponsored or safe", cfg.Organization.FeeMode)
	}
	switch cfg.Organization.ScreeningEnforcement {
	case "", "off", "warn", "block":
	default:
		return fmt.Errorf("organization.screening_enforcement %q must be off, warn or block", cfg.Organization.ScreeningEnforcement)
	}
	if s := cfg.Organization.SeedBeneficiary; s != nil && strings.TrimSpace(s.Address) == "" {
		return errors.New("organization.seed_beneficiary.address is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

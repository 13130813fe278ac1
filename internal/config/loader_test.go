package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 14*24*time.Hour, cfg.Organization.TrialLength)
	assert.Equal(t, "USDC", cfg.Organization.FeeToken)
	assert.Nil(t, cfg.Organization.SeedBeneficiary)
	require.NoError(t, validate(&cfg))
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  addr: ":9999"
logging:
  level: "debug"
organization:
  trial_length: 72h
  seed_beneficiary:
    name: "Ops wallet"
    address: "0x52908400098527886e0f7030069857d2e4169ee7"
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))

	cfg := Defaults()
	require.NoError(t, loadYAML(&cfg, yamlPath))

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 72*time.Hour, cfg.Organization.TrialLength)
	require.NotNil(t, cfg.Organization.SeedBeneficiary)
	assert.Equal(t, "Ops wallet", cfg.Organization.SeedBeneficiary.Name)
	// Unchanged fields keep defaults.
	assert.Equal(t, "disbursa", cfg.NATS.SubjectPrefix)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("server:\n  addr: \":7000\"\n"), 0o644))

	t.Setenv("DISBURSA_ADDR", ":7001")
	t.Setenv("DISBURSA_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DISBURSA_SEED_BENEFICIARY_ADDRESS", "0xde709f2102306220921060314715629080e2fb77")
	t.Setenv("DISBURSA_BILLING_PAID_PERIOD", "720h")

	cfg, err := LoadFrom(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.NotNil(t, cfg.Organization.SeedBeneficiary)
	assert.Equal(t, "Treasury", cfg.Organization.SeedBeneficiary.Name)
	assert.Equal(t, 720*time.Hour, cfg.Billing.PaidPeriod)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateRejectsBadFeeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Organization.FeeMode = "free"
	assert.Error(t, validate(&cfg))
}

func TestScreeningEnforcementFromEnv(t *testing.T) {
	t.Setenv("DISBURSA_SCREENING_ENFORCEMENT", "block")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "block", cfg.Organization.ScreeningEnforcement)

	cfg.Organization.ScreeningEnforcement = "loud"
	assert.Error(t, validate(cfg))
}

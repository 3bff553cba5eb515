package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borgia.ae/ledger/internal/money"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OPERATOR_TOKEN_HASH", "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA")
	t.Setenv("ASSOCIATION_ACCOUNT_ID", "1")
	t.Setenv("GATEWAY_SHARED_SECRET", "secret")
	t.Setenv("DB_PASSWORD", "pw")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, int64(1), cfg.AssociationAccountID)
	assert.Equal(t, 5*time.Second, cfg.DBTxTimeout)
	assert.Equal(t, "5.00", cfg.GatewayMinRecharge.String())
	assert.Equal(t, "500.00", cfg.GatewayMaxRecharge.String())
	assert.Equal(t, "1", cfg.GatewayTaxFee.String())
	assert.Equal(t, "postgres://ledger:pw@postgres:5432/ledger?sslmode=disable", cfg.DatabaseDSN())
}

func TestLoadMoneyFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEWAY_FEE_ENABLED", "true")
	t.Setenv("GATEWAY_BASE_FEE", "0,16")
	t.Setenv("GATEWAY_RATIO_FEE_PERCENT", "1.3")
	t.Setenv("BALANCE_LOW_THRESHOLD", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.GatewayFeeEnabled)
	assert.Equal(t, "0.16", cfg.GatewayBaseFee.String())
	assert.Equal(t, "1.3", cfg.GatewayRatioFeePercent.String())
	assert.Equal(t, "-5.00", cfg.BalanceLowThreshold.String())

	fees := cfg.FeeSchedule()
	assert.Equal(t, "0.85", fees.FeeFromTotal(money.MustParse("53")).String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "mysql"}},
		{name: "min above max", env: map[string]string{"GATEWAY_MIN_RECHARGE": "50", "GATEWAY_MAX_RECHARGE": "10"}},
		{name: "ratio too high", env: map[string]string{"GATEWAY_RATIO_FEE_PERCENT": "100"}},
		{name: "bad money", env: map[string]string{"GATEWAY_BASE_FEE": "0.001"}},
		{name: "no password", env: map[string]string{"DB_PASSWORD": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestMemoryDriverNeedsNoPassword(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("STORE_DRIVER", "memory")

	_, err := Load()
	assert.NoError(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEWAY_CURRENCY", "")
	require.NoError(t, os.Unsetenv("GATEWAY_CURRENCY"))

	dir := t.TempDir()
	env := "GATEWAY_CURRENCY=CHF\nASSOCIATION_ACCOUNT_ID=7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "CHF", cfg.GatewayCurrency)
	assert.Equal(t, int64(1), cfg.AssociationAccountID, "окружение важнее .env")
}

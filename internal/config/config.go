// Package config загружает конфигурацию сервиса из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"borgia.ae/ledger/internal/money"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	DBHost        string        `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int           `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"ledger"`
	DBPassword    string        `envconfig:"DB_PASSWORD"`
	DBName        string        `envconfig:"DB_NAME" default:"ledger"`
	DBSSLMode     string        `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns    int32         `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns    int32         `envconfig:"DB_MIN_CONNS" default:"5"`
	DBTxTimeout   time.Duration `envconfig:"DB_TX_TIMEOUT" default:"5s"`
	DBTxRetries   int           `envconfig:"DB_TX_RETRIES" default:"3"`
	DBLockTimeout time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"2s"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Paris"`
	// postgres или memory (память: только для разработки)
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	// --- HTTP ---
	HTTPAddr         string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	// Argon2id-хеш токена операторов, генерируется scripts/generate_hash.go
	OperatorTokenHash string `envconfig:"OPERATOR_TOKEN_HASH" required:"true"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Ledger ---
	// Системный счёт ассоциации: получатель пополнений, продаж и долей событий
	AssociationAccountID int64 `envconfig:"ASSOCIATION_ACCOUNT_ID" required:"true"`

	// --- Payment gateway ---
	GatewaySharedSecret    string          `envconfig:"GATEWAY_SHARED_SECRET" required:"true"`
	GatewayVendorToken     string          `envconfig:"GATEWAY_VENDOR_TOKEN"`
	GatewayCurrency        string          `envconfig:"GATEWAY_CURRENCY" default:"EUR"`
	GatewayFeeEnabled      bool            `envconfig:"GATEWAY_FEE_ENABLED" default:"false"`
	GatewayBaseFee         money.Money     `envconfig:"GATEWAY_BASE_FEE" default:"0.00"`
	GatewayRatioFeePercent decimal.Decimal `envconfig:"GATEWAY_RATIO_FEE_PERCENT" default:"0"`
	GatewayTaxFee          decimal.Decimal `envconfig:"GATEWAY_TAX_FEE" default:"1"`
	GatewayMinRecharge     money.Money     `envconfig:"GATEWAY_MIN_RECHARGE" default:"5.00"`
	GatewayMaxRecharge     money.Money     `envconfig:"GATEWAY_MAX_RECHARGE" default:"500.00"`

	// --- Balance alerts ---
	// Уведомление, когда баланс строго ниже порога
	BalanceLowThreshold money.Money `envconfig:"BALANCE_LOW_THRESHOLD" default:"0.00"`
	BalanceAlertCron    string      `envconfig:"BALANCE_ALERT_CRON" default:"0 9 * * *"`
	LedgerAuditCron     string      `envconfig:"LEDGER_AUDIT_CRON" default:"30 3 * * *"`

	// --- Audit log ---
	AuditBufferSize int `envconfig:"AUDIT_BUFFER_SIZE" default:"256"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// FeeSchedule собирает параметры комиссии шлюза.
func (c *Config) FeeSchedule() money.FeeSchedule {
	return money.FeeSchedule{
		Base:         c.GatewayBaseFee,
		RatioPercent: c.GatewayRatioFeePercent,
		Tax:          c.GatewayTaxFee,
	}
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER должен быть postgres или memory, получено %q", c.StoreDriver)
	}
	if c.DBTxRetries < 0 {
		return fmt.Errorf("DB_TX_RETRIES не может быть отрицательным")
	}
	if c.DBTxTimeout <= 0 || c.DBLockTimeout <= 0 {
		return fmt.Errorf("DB_TX_TIMEOUT и DB_LOCK_TIMEOUT должны быть > 0")
	}
	if c.AssociationAccountID <= 0 {
		return fmt.Errorf("ASSOCIATION_ACCOUNT_ID должен быть > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS и RATE_LIMIT_WINDOW должны быть > 0")
	}
	if c.GatewayBaseFee.IsNegative() || c.GatewayRatioFeePercent.IsNegative() || c.GatewayTaxFee.IsNegative() {
		return fmt.Errorf("комиссии шлюза не могут быть отрицательными")
	}
	if c.GatewayRatioFeePercent.Mul(c.taxOrOne()).GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("GATEWAY_RATIO_FEE_PERCENT * GATEWAY_TAX_FEE должно быть < 100")
	}
	if !c.GatewayMinRecharge.IsPositive() || c.GatewayMaxRecharge.LessThan(c.GatewayMinRecharge) {
		return fmt.Errorf("некорректные GATEWAY_MIN_RECHARGE/GATEWAY_MAX_RECHARGE")
	}
	if c.AuditBufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE должен быть > 0")
	}
	return nil
}

func (c *Config) taxOrOne() decimal.Decimal {
	if c.GatewayTaxFee.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.GatewayTaxFee
}

// Load читает переменные окружения и заполняет структуру Config.
// Если рядом лежит .env, его значения добавляются к окружению, но уже
// заданные переменные не перезаписывают.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("не удалось прочитать .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

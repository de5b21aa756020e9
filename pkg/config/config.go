package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/inpayhq/checkout-reconciler/pkg/enums"
)

const (
	EnvPrefix = "INPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Provider     ProviderConfig
	Checkout     CheckoutConfig
	Webhook      WebhookConfig
	Nonce        NonceConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"INPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"INPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"INPAY_DB_DSN"`
	Driver string `envconfig:"INPAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"INPAY_DB_HOST"`
	Port     int    `envconfig:"INPAY_DB_PORT" default:"5432"`
	User     string `envconfig:"INPAY_DB_USER"`
	Password string `envconfig:"INPAY_DB_PASSWORD"`
	Name     string `envconfig:"INPAY_DB_NAME"`
	SSLMode  string `envconfig:"INPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"INPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"INPAY_REDIS_ADDR"`
	Password     string        `envconfig:"INPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"INPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ProviderConfig holds the iNPAY API credentials and endpoints.
type ProviderConfig struct {
	PublicKey      string        `envconfig:"INPAY_PUBLIC_KEY" required:"true"`
	SecretKey      string        `envconfig:"INPAY_SECRET_KEY" required:"true"`
	BaseURL        string        `envconfig:"INPAY_API_BASE_URL" default:"https://api.inpaycheckout.com/api/v1/developer"`
	VerifyTimeout  time.Duration `envconfig:"INPAY_VERIFY_TIMEOUT" default:"30s"`
	VerboseLogging bool          `envconfig:"INPAY_VERBOSE_LOGGING" default:"false"`
}

type CheckoutConfig struct {
	Currency    enums.Currency `envconfig:"INPAY_CHECKOUT_CURRENCY" default:"NGN"`
	ReturnURL   string         `envconfig:"INPAY_CHECKOUT_RETURN_URL" required:"true"`
	CancelURL   string         `envconfig:"INPAY_CHECKOUT_CANCEL_URL"`
	CallbackURL string         `envconfig:"INPAY_CHECKOUT_CALLBACK_URL" required:"true"`
}

type WebhookConfig struct {
	CompletionEvents []string `envconfig:"INPAY_WEBHOOK_COMPLETION_EVENTS" default:"payment.virtual_payid.completed,payment.checkout_payid.completed,payment.virtual_account.completed,payment.checkout_virtual_account.completed"`
}

// CompletionEventSet returns the completion event names as a lookup set.
func (w WebhookConfig) CompletionEventSet() map[string]struct{} {
	set := make(map[string]struct{}, len(w.CompletionEvents))
	for _, event := range w.CompletionEvents {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		set[event] = struct{}{}
	}
	return set
}

type NonceConfig struct {
	TTL time.Duration `envconfig:"INPAY_NONCE_TTL" default:"15m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"INPAY_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"INPAY_DB_HOST": db.Host,
		"INPAY_DB_USER": db.User,
		"INPAY_DB_NAME": db.Name,
	}
	for _, key := range []string{"INPAY_DB_HOST", "INPAY_DB_USER", "INPAY_DB_NAME"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either INPAY_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

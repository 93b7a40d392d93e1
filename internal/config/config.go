package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/inkbook/service-booking/internal/platform/database"
)

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret string
}

// KafkaConfig holds broker settings.
type KafkaConfig struct {
	Brokers     []string
	GroupPrefix string
}

// RedisConfig holds the Redis connection used for webhook de-duplication and
// status broadcast. An empty Addr disables both.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PaymentConfig holds the payment processor client settings.
type PaymentConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	PublicPayURL  string
}

// LifecycleConfig holds booking-lifecycle policy.
type LifecycleConfig struct {
	Currency                     string
	DefaultDepositExpiryDays     int
	ReconcileInterval            time.Duration
	AllowCancelPaidWithoutRefund bool
	WebhookDedupTTL              time.Duration
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port          string
	AppEnv        string
	MigrationsDir string
	DBConfig      database.PostgresConfig
	JWTConfig     JWTConfig
	KafkaConfig   KafkaConfig
	RedisConfig   RedisConfig
	Payment       PaymentConfig
	Lifecycle     LifecycleConfig
}

// Load reads configuration from an optional .env file and BOOKING_-prefixed
// environment variables.
func Load() (*ServiceConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BOOKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_port", ":8082")
	v.SetDefault("app_env", "production")
	v.SetDefault("migrations_dir", "migrations")

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "booking")
	v.SetDefault("db_password", "booking")
	v.SetDefault("db_name", "booking_db")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("db_max_open_conns", 20)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_max_lifetime", 30*time.Minute)

	v.SetDefault("jwt_secret", "")

	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_group_prefix", "")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("payment_base_url", "http://localhost:8090")
	v.SetDefault("payment_api_key", "")
	v.SetDefault("payment_webhook_secret", "")
	v.SetDefault("payment_timeout", 10*time.Second)
	v.SetDefault("payment_public_pay_url", "http://localhost:3000/pay")

	v.SetDefault("currency", "USD")
	v.SetDefault("deposit_expiry_days", 7)
	v.SetDefault("reconcile_interval", 30*time.Second)
	v.SetDefault("allow_cancel_paid_without_refund", true)
	v.SetDefault("webhook_dedup_ttl", 72*time.Hour)
}

func fromViper(v *viper.Viper) (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		Port:          v.GetString("service_port"),
		AppEnv:        v.GetString("app_env"),
		MigrationsDir: v.GetString("migrations_dir"),
		DBConfig: database.PostgresConfig{
			Host:            v.GetString("db_host"),
			Port:            v.GetInt("db_port"),
			User:            v.GetString("db_user"),
			Password:        v.GetString("db_password"),
			DBName:          v.GetString("db_name"),
			SSLMode:         v.GetString("db_sslmode"),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
		},
		JWTConfig: JWTConfig{Secret: v.GetString("jwt_secret")},
		KafkaConfig: KafkaConfig{
			Brokers:     splitList(v.GetString("kafka_brokers")),
			GroupPrefix: v.GetString("kafka_group_prefix"),
		},
		RedisConfig: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Payment: PaymentConfig{
			BaseURL:       v.GetString("payment_base_url"),
			APIKey:        v.GetString("payment_api_key"),
			WebhookSecret: v.GetString("payment_webhook_secret"),
			Timeout:       v.GetDuration("payment_timeout"),
			PublicPayURL:  v.GetString("payment_public_pay_url"),
		},
		Lifecycle: LifecycleConfig{
			Currency:                     strings.ToUpper(v.GetString("currency")),
			DefaultDepositExpiryDays:     v.GetInt("deposit_expiry_days"),
			ReconcileInterval:            v.GetDuration("reconcile_interval"),
			AllowCancelPaidWithoutRefund: v.GetBool("allow_cancel_paid_without_refund"),
			WebhookDedupTTL:              v.GetDuration("webhook_dedup_ttl"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServiceConfig) validate() error {
	if c.JWTConfig.Secret == "" {
		return fmt.Errorf("BOOKING_JWT_SECRET is required")
	}
	if c.AppEnv != "development" && c.Payment.WebhookSecret == "" {
		return fmt.Errorf("BOOKING_PAYMENT_WEBHOOK_SECRET is required outside development")
	}
	if len(c.KafkaConfig.Brokers) == 0 {
		return fmt.Errorf("BOOKING_KAFKA_BROKERS is required")
	}
	if c.Lifecycle.DefaultDepositExpiryDays <= 0 {
		return fmt.Errorf("BOOKING_DEPOSIT_EXPIRY_DAYS must be positive")
	}
	if c.Lifecycle.ReconcileInterval <= 0 {
		return fmt.Errorf("BOOKING_RECONCILE_INTERVAL must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

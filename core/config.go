package core

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds everything the service needs at startup. Required fields
// are checked by Validate; missing secrets abort startup rather than
// degrading at the first request.
type Config struct {
	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	PriceIDs            map[string]string // tier name -> Stripe price id
	SuccessURL          string
	CancelURL           string

	// Keycloak
	KeycloakURL          string
	KeycloakRealm        string
	KeycloakClientID     string
	KeycloakClientSecret string

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Infrastructure
	RedisAddr   string
	DatabaseURL string
	ListenAddr  string

	// Policy
	SweepInterval   time.Duration
	RenewalWindow   time.Duration
	ExternalTimeout time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults
// for optional values. It does not validate; call Validate afterwards.
func FromEnv() Config {
	return Config{
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceIDs: map[string]string{
			"basic":    envDefault("STRIPE_PRICE_ID_BASIC", "price_1ExampleBasic"),
			"advanced": envDefault("STRIPE_PRICE_ID_ADVANCED", "price_1ExampleAdvanced"),
			"pro":      envDefault("STRIPE_PRICE_ID_PRO", "price_1ExamplePro"),
		},
		SuccessURL: envDefault("CHECKOUT_SUCCESS_URL", "https://example.com/success"),
		CancelURL:  envDefault("CHECKOUT_CANCEL_URL", "https://example.com/cancel"),

		KeycloakURL:          strings.TrimRight(os.Getenv("KEYCLOAK_URL"), "/"),
		KeycloakRealm:        os.Getenv("KEYCLOAK_REALM"),
		KeycloakClientID:     os.Getenv("KEYCLOAK_CLIENT_ID"),
		KeycloakClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  envDefault("LISTEN_ADDR", ":4242"),

		SweepInterval:   envDuration("SWEEP_INTERVAL", 24*time.Hour),
		RenewalWindow:   envDuration("RENEWAL_WINDOW", 365*24*time.Hour),
		ExternalTimeout: envDuration("EXTERNAL_TIMEOUT", 10*time.Second),
	}
}

// Validate reports every missing required value at once.
func (c Config) Validate() error {
	var missing []string
	required := []struct{ name, val string }{
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
		{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		{"KEYCLOAK_URL", c.KeycloakURL},
		{"KEYCLOAK_REALM", c.KeycloakRealm},
		{"KEYCLOAK_CLIENT_ID", c.KeycloakClientID},
		{"KEYCLOAK_CLIENT_SECRET", c.KeycloakClientSecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("core: missing required config: %s", strings.Join(missing, ", "))
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("core: sweep interval must be positive")
	}
	if c.RenewalWindow <= 0 {
		return fmt.Errorf("core: renewal window must be positive")
	}
	return nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

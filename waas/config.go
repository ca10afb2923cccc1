package waas

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Te-De-CX/Waas/internal/dispatch"
	"github.com/Te-De-CX/Waas/internal/expiry"
	"github.com/Te-De-CX/Waas/internal/security"
)

// Config is the single immutable configuration of the gateway. Secrets are
// usually injected as ${VAR} references expanded at load time. Only the
// braced form is expanded; a bare $ is kept as written.
type Config struct {
	HTTP      HTTPConfig                `yaml:"http"`
	OPay      OPayConfig                `yaml:"opay"`
	Retry     RetryConfig               `yaml:"retry"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	Callback  CallbackConfig            `yaml:"callback"`
	Ledger    LedgerConfig              `yaml:"ledger"`
	Log       LogConfig                 `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// PublicBaseURL is where this service is reachable; it seeds returnUrl
	// and the default callbackUrl of payments.
	PublicBaseURL string `yaml:"publicBaseURL"`
}

type OPayConfig struct {
	BaseURL       string `yaml:"baseURL"`
	MerchantID    string `yaml:"merchantId"`
	Secret        string `yaml:"secret"`
	SaltIndex     string `yaml:"saltIndex"`
	PublicAPIKey  string `yaml:"publicAPIKey"`
	ClientAuthKey string `yaml:"clientAuthKey"`
	UserAgent     string `yaml:"userAgent"`
	// PaymentLifetime sets expireAt of initialized payments.
	PaymentLifetime time.Duration `yaml:"paymentLifetime"`

	// Keys are given inline (PEM or base64 DER) or as file paths.
	CounterpartyPublicKey     string `yaml:"counterpartyPublicKey"`
	CounterpartyPublicKeyFile string `yaml:"counterpartyPublicKeyFile"`
	PrivateKey                string `yaml:"privateKey"`
	PrivateKeyFile            string `yaml:"privateKeyFile"`

	PKCS11 PKCS11Config `yaml:"pkcs11"`
}

// PKCS11Config points at an RSA signing key held in a token. Only honoured
// by binaries built with the softhsm tag.
type PKCS11Config struct {
	ModulePath string `yaml:"modulePath"`
	SlotID     uint   `yaml:"slotId"`
	PIN        string `yaml:"pin"`
	KeyLabel   string `yaml:"keyLabel"`
}

func (c PKCS11Config) Enabled() bool { return c.ModulePath != "" }

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EndpointConfig overrides one built-in endpoint descriptor. Nil pointers
// keep the built-in value.
type EndpointConfig struct {
	Path              string  `yaml:"path"`
	Mode              string  `yaml:"mode"`
	Template          string  `yaml:"template"`
	Version           *string `yaml:"version"`
	BodyFormat        *string `yaml:"bodyFormat"`
	SignField         *string `yaml:"signField"`
	BearerAuth        *bool   `yaml:"bearerAuth"`
	SendClientAuthKey *bool   `yaml:"sendClientAuthKey"`
	EncryptedResponse *bool   `yaml:"encryptedResponse"`
}

type CallbackConfig struct {
	RequireSignature bool   `yaml:"requireSignature"`
	Template         string `yaml:"template"`
	// MaxSkew rejects signed callbacks whose X-Timestamp is further than
	// this from the local clock. Zero disables the check.
	MaxSkew time.Duration `yaml:"maxSkew"`
}

type LedgerConfig struct {
	// Backend is mem, pg or redis.
	Backend       string `yaml:"backend"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads a YAML file, expands environment references, applies
// defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "localhost:9090"
	}
	if c.HTTP.PublicBaseURL == "" {
		c.HTTP.PublicBaseURL = "http://" + c.HTTP.Addr
	}
	if c.OPay.UserAgent == "" {
		c.OPay.UserAgent = dispatch.DefaultUserAgent
	}
	def := dispatch.DefaultRetryPolicy()
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = def.MaxAttempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = def.Delay
	}
	if c.Retry.Timeout == 0 {
		c.Retry.Timeout = def.Timeout
	}
	if c.OPay.PaymentLifetime == 0 {
		c.OPay.PaymentLifetime = expiry.DefaultPaymentLifetime
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = getenv("LEDGER_BACKEND", "mem")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.OPay.BaseURL == "" {
		return fmt.Errorf("opay.baseURL is required")
	}
	if c.OPay.MerchantID == "" {
		return fmt.Errorf("opay.merchantId is required")
	}
	if c.OPay.Secret == "" && c.OPay.PrivateKey == "" && c.OPay.PrivateKeyFile == "" && !c.OPay.PKCS11.Enabled() {
		return fmt.Errorf("opay.secret or an RSA private key is required")
	}
	if c.OPay.PaymentLifetime < 0 {
		return fmt.Errorf("opay.paymentLifetime must not be negative")
	}
	if c.Callback.MaxSkew < 0 {
		return fmt.Errorf("callback.maxSkew must not be negative")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be positive, got %d", c.Retry.Attempts)
	}

	switch c.Ledger.Backend {
	case "mem":
	case "pg":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the pg backend")
		}
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be 'mem', 'pg' or 'redis', got '%s'", c.Ledger.Backend)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format)
	}

	for name, ec := range c.Endpoints {
		if _, ok := builtinEndpoints[name]; !ok {
			return fmt.Errorf("endpoints.%s: unknown endpoint", name)
		}
		if ec.Mode != "" {
			if _, err := security.ParseMode(ec.Mode); err != nil {
				return fmt.Errorf("endpoints.%s: %w", name, err)
			}
		}
		if ec.Template != "" {
			if _, err := security.ParseTemplate(ec.Template); err != nil {
				return fmt.Errorf("endpoints.%s: %w", name, err)
			}
		}
	}
	if c.Callback.Template != "" {
		tpl, err := security.ParseTemplate(c.Callback.Template)
		if err != nil {
			return fmt.Errorf("callback.template: %w", err)
		}
		if c.Callback.MaxSkew > 0 && !tpl.Covers(security.PartTimestamp) {
			return fmt.Errorf("callback.maxSkew requires callback.template to include timestamp")
		}
	} else if c.Callback.MaxSkew > 0 {
		return fmt.Errorf("callback.maxSkew requires callback.template to include timestamp")
	}
	return nil
}

// RetryPolicy converts the retry section for the dispatcher.
func (c *Config) RetryPolicy() dispatch.RetryPolicy {
	return dispatch.RetryPolicy{
		MaxAttempts: c.Retry.Attempts,
		Delay:       c.Retry.Delay,
		Timeout:     c.Retry.Timeout,
	}
}

// Credentials reads key files and builds the immutable merchant identity.
// signingKey, when non-nil, replaces the software private key for signing.
func (c *Config) Credentials(signingKey security.RSAKey) (*security.Credentials, error) {
	counterparty, err := keyMaterial(c.OPay.CounterpartyPublicKey, c.OPay.CounterpartyPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("counterparty public key: %w", err)
	}
	private, err := keyMaterial(c.OPay.PrivateKey, c.OPay.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return security.NewCredentials(security.CredentialsConfig{
		MerchantID:            c.OPay.MerchantID,
		Secret:                c.OPay.Secret,
		SaltIndex:             c.OPay.SaltIndex,
		PublicAPIKey:          c.OPay.PublicAPIKey,
		ClientAuthKey:         c.OPay.ClientAuthKey,
		CounterpartyPublicKey: counterparty,
		PrivateKey:            private,
		SigningKey:            signingKey,
	})
}

func keyMaterial(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

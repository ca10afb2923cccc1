package security

import (
	"crypto/rsa"
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

// CredentialsConfig is the raw material handed over by the config loader.
type CredentialsConfig struct {
	MerchantID    string
	Secret        string
	SaltIndex     string
	PublicAPIKey  string
	ClientAuthKey string
	// CounterpartyPublicKey and PrivateKey are PEM or base64 DER.
	CounterpartyPublicKey []byte
	PrivateKey            []byte
	// SigningKey overrides PrivateKey for signing, e.g. with an HSM key.
	SigningKey RSAKey
}

// Credentials is the immutable identity of the merchant. It is built once at
// start-up and shared read-only by every request.
type Credentials struct {
	merchantID    string
	secret        string
	saltIndex     string
	publicAPIKey  string
	clientAuthKey string
	counterparty  *rsa.PublicKey
	privateKey    *rsa.PrivateKey
	signingKey    RSAKey
}

// NewCredentials validates and imports key material up front so no
// cryptographic operation ever runs against a mistyped key.
func NewCredentials(cfg CredentialsConfig) (*Credentials, error) {
	if cfg.MerchantID == "" {
		return nil, fmt.Errorf("merchant id is required")
	}
	c := &Credentials{
		merchantID:    cfg.MerchantID,
		secret:        cfg.Secret,
		saltIndex:     cfg.SaltIndex,
		publicAPIKey:  cfg.PublicAPIKey,
		clientAuthKey: cfg.ClientAuthKey,
		signingKey:    cfg.SigningKey,
	}
	if len(cfg.CounterpartyPublicKey) > 0 {
		pub, err := ParsePublicKey(cfg.CounterpartyPublicKey)
		if err != nil {
			return nil, fmt.Errorf("counterparty public key: %w", err)
		}
		c.counterparty = pub
	}
	if len(cfg.PrivateKey) > 0 {
		key, err := ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("merchant private key: %w", err)
		}
		c.privateKey = key
		if c.signingKey == nil {
			c.signingKey = NewSoftwareKey(key)
		}
	}
	if c.secret == "" && c.signingKey == nil {
		return nil, fmt.Errorf("%w: neither a shared secret nor an RSA signing key is configured", waaserr.ErrInvalidKeyMaterial)
	}
	return c, nil
}

func (c *Credentials) MerchantID() string { return c.merchantID }
func (c *Credentials) Secret() string { return c.secret }
func (c *Credentials) SaltIndex() string { return c.saltIndex }
func (c *Credentials) PublicAPIKey() string { return c.publicAPIKey }
func (c *Credentials) ClientAuthKey() string { return c.clientAuthKey }
func (c *Credentials) CounterpartyKey() *rsa.PublicKey { return c.counterparty }
func (c *Credentials) PrivateKey() *rsa.PrivateKey { return c.privateKey }
func (c *Credentials) SigningKey() RSAKey { return c.signingKey }

// LogValue keeps secrets out of structured logs.
func (c *Credentials) LogValue() slog.Value {
	var signing *rsa.PublicKey
	if c.signingKey != nil {
		signing = c.signingKey.Public()
	}
	return slog.GroupValue(
		slog.String("merchant_id", c.merchantID),
		slog.String("secret", waaserr.Redact(c.secret)),
		slog.String("counterparty_key", Fingerprint(c.counterparty)),
		slog.String("signing_key", Fingerprint(signing)),
	)
}

func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{merchant=%s secret=%s counterparty=%s}",
		c.merchantID, waaserr.Redact(c.secret), Fingerprint(c.counterparty))
}

func (c *Credentials) GoString() string { return c.String() }

package security

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

// Mode is the security mode an endpoint declares.
type Mode string

const (
	ModeHMACPlain             Mode = "hmac-plain"
	ModeRSASigned             Mode = "rsa-signed"
	ModeRSAEncryptedAndSigned Mode = "rsa-encrypted-and-signed"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeHMACPlain, ModeRSASigned, ModeRSAEncryptedAndSigned:
		return m, nil
	}
	return "", fmt.Errorf("unknown security mode %q", s)
}

// Encrypted reports whether the body is sent as ciphertext.
func (m Mode) Encrypted() bool { return m == ModeRSAEncryptedAndSigned }

// Part is one element of a signing template.
type Part string

const (
	PartPayload   Part = "payload"
	PartTimestamp Part = "timestamp"
	PartSecret    Part = "secret"
	PartSalt      Part = "salt"
)

// Template is the explicit concatenation order of the string to sign.
// Different API versions expect different orders, so every endpoint carries
// its own template.
type Template []Part

// ParseTemplate reads a template such as "payload+timestamp+secret+salt".
func ParseTemplate(s string) (Template, error) {
	var t Template
	seen := map[Part]bool{}
	for _, raw := range strings.Split(s, "+") {
		p := Part(strings.ToLower(strings.TrimSpace(raw)))
		switch p {
		case PartPayload, PartTimestamp, PartSecret, PartSalt:
		default:
			return nil, fmt.Errorf("unknown template part %q", raw)
		}
		if seen[p] {
			return nil, fmt.Errorf("template part %q repeated", p)
		}
		seen[p] = true
		t = append(t, p)
	}
	if !seen[PartPayload] {
		return nil, fmt.Errorf("template %q does not cover the payload", s)
	}
	return t, nil
}

func MustTemplate(s string) Template {
	t, err := ParseTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Covers reports whether the template signs over part.
func (t Template) Covers(part Part) bool {
	for _, p := range t {
		if p == part {
			return true
		}
	}
	return false
}

func (t Template) String() string {
	parts := make([]string, len(t))
	for i, p := range t {
		parts[i] = string(p)
	}
	return strings.Join(parts, "+")
}

// TemplateInput holds the values a template may reference.
type TemplateInput struct {
	Payload   string
	Timestamp string
	Secret    string
	Salt      string
}

// Render concatenates the referenced values in template order.
func (t Template) Render(in TemplateInput) []byte {
	var b strings.Builder
	for _, p := range t {
		switch p {
		case PartPayload:
			b.WriteString(in.Payload)
		case PartTimestamp:
			b.WriteString(in.Timestamp)
		case PartSecret:
			b.WriteString(in.Secret)
		case PartSalt:
			b.WriteString(in.Salt)
		}
	}
	return []byte(b.String())
}

// Signer produces the wire form of a signature over a rendered message.
type Signer interface {
	Sign(message []byte) (string, error)
	Algorithm() string
}

// HMACSigner signs with HMAC-SHA256 and emits lowercase hex.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret string) (*HMACSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty shared secret", waaserr.ErrSigningError)
	}
	return &HMACSigner{secret: []byte(secret)}, nil
}

func (s *HMACSigner) Sign(message []byte) (string, error) {
	return SignHMAC(s.secret, message), nil
}

func (s *HMACSigner) Algorithm() string { return "HMAC-SHA256" }

// SignHMAC returns hex(HMAC-SHA256(secret, message)).
func SignHMAC(secret, message []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyHMAC compares a hex signature in constant time.
func VerifyHMAC(secret, message []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(message)
	return hmac.Equal(h.Sum(nil), got)
}

// RSASigner signs with RSASSA-PKCS1-v1_5 over SHA-256 and emits std base64.
type RSASigner struct {
	key RSAKey
}

func NewRSASigner(key RSAKey) (*RSASigner, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no RSA signing key configured", waaserr.ErrSigningError)
	}
	pub := key.Public()
	if pub == nil {
		return nil, fmt.Errorf("%w: RSA signing key has no public half", waaserr.ErrSigningError)
	}
	if pub.N.BitLen() < minRSABits {
		return nil, fmt.Errorf("%w: RSA signing key has %d bits", waaserr.ErrSigningError, pub.N.BitLen())
	}
	return &RSASigner{key: key}, nil
}

func (s *RSASigner) Sign(message []byte) (string, error) {
	sig, err := s.key.SignPKCS1v15SHA256(message)
	if err != nil {
		return "", fmt.Errorf("%w: %v", waaserr.ErrSigningError, err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *RSASigner) Algorithm() string { return "SHA256withRSA" }

// VerifyRSA checks a base64 RSASSA-PKCS1-v1_5/SHA-256 signature.
func VerifyRSA(pub *rsa.PublicKey, message []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}

// NewSigner picks the algorithm the mode calls for.
func NewSigner(mode Mode, creds *Credentials) (Signer, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: no credentials", waaserr.ErrSigningError)
	}
	switch mode {
	case ModeHMACPlain:
		s, err := NewHMACSigner(creds.Secret())
		if err != nil {
			return nil, err
		}
		return s, nil
	case ModeRSASigned, ModeRSAEncryptedAndSigned:
		s, err := NewRSASigner(creds.SigningKey())
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", waaserr.ErrSigningError, mode)
}

package security

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

// pkcs1Overhead is the padding cost of RSAES-PKCS1-v1_5.
const pkcs1Overhead = 11

// Encryptor seals payloads for the counterparty.
type Encryptor struct {
	recipient *rsa.PublicKey
}

func NewEncryptor(recipient *rsa.PublicKey) (*Encryptor, error) {
	if recipient == nil {
		return nil, fmt.Errorf("%w: no counterparty public key configured", waaserr.ErrInvalidKeyMaterial)
	}
	return &Encryptor{recipient: recipient}, nil
}

// Capacity is the largest plaintext a single block can carry.
func (e *Encryptor) Capacity() int {
	return e.recipient.Size() - pkcs1Overhead
}

// Encrypt returns base64(RSAES-PKCS1-v1_5(plaintext)). Plaintext that does not
// fit in one block fails with ErrPayloadTooLarge; it is never truncated.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) > e.Capacity() {
		return "", fmt.Errorf("%w: %d bytes, key capacity is %d", waaserr.ErrPayloadTooLarge, len(plaintext), e.Capacity())
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, e.recipient, plaintext)
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decryptor opens ciphertext the counterparty sealed with our public key.
type Decryptor struct {
	key *rsa.PrivateKey
}

func NewDecryptor(key *rsa.PrivateKey) (*Decryptor, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no private key configured", waaserr.ErrInvalidKeyMaterial)
	}
	return &Decryptor{key: key}, nil
}

// Decrypt returns the JSON document inside ciphertext. Any padding, encoding
// or JSON failure yields ErrDecryptionError and no data.
func (d *Decryptor) Decrypt(ciphertext string) (json.RawMessage, error) {
	ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not base64", waaserr.ErrDecryptionError)
	}
	if len(ct) != d.key.Size() {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes, want %d", waaserr.ErrDecryptionError, len(ct), d.key.Size())
	}
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, d.key, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: padding check failed", waaserr.ErrDecryptionError)
	}
	if !json.Valid(pt) {
		return nil, fmt.Errorf("%w: plaintext is not JSON", waaserr.ErrDecryptionError)
	}
	return json.RawMessage(pt), nil
}

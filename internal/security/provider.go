package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// RSAKey is the signing contract shared by software keys and HSM-held keys.
// Implementations hash the message with SHA-256 and return a raw
// RSASSA-PKCS1-v1_5 signature.
type RSAKey interface {
	Public() *rsa.PublicKey
	SignPKCS1v15SHA256(message []byte) ([]byte, error)
}

// SoftwareKey keeps the private key in process memory.
type SoftwareKey struct {
	key *rsa.PrivateKey
}

func NewSoftwareKey(key *rsa.PrivateKey) *SoftwareKey { return &SoftwareKey{key: key} }

func (k *SoftwareKey) Public() *rsa.PublicKey {
	if k == nil || k.key == nil {
		return nil
	}
	return &k.key.PublicKey
}

func (k *SoftwareKey) SignPKCS1v15SHA256(message []byte) ([]byte, error) {
	if k == nil || k.key == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA256, digest[:])
}

var _ RSAKey = (*SoftwareKey)(nil)

package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

const minRSABits = 1024

// ParsePublicKey imports an RSA public key from PEM ("PUBLIC KEY",
// "RSA PUBLIC KEY" or "CERTIFICATE") or from unarmored base64 DER.
// Private key material is refused before any parsing is attempted.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	der, blockType, err := decodeKey(data)
	if err != nil {
		return nil, err
	}

	var pub any
	switch blockType {
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(der)
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(der)
	case "CERTIFICATE":
		var cert *x509.Certificate
		cert, err = x509.ParseCertificate(der)
		if err == nil {
			pub = cert.PublicKey
		}
	case "":
		pub, err = x509.ParsePKIXPublicKey(der)
		if err != nil {
			pub, err = x509.ParsePKCS1PublicKey(der)
		}
	case "PRIVATE KEY", "RSA PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
		return nil, fmt.Errorf("%w: expected a public key, got %q block", waaserr.ErrInvalidKeyMaterial, blockType)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", waaserr.ErrInvalidKeyMaterial, blockType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing public key: %v", waaserr.ErrInvalidKeyMaterial, err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", waaserr.ErrInvalidKeyMaterial, pub)
	}
	if rsaPub.N.BitLen() < minRSABits {
		return nil, fmt.Errorf("%w: RSA key has %d bits", waaserr.ErrInvalidKeyMaterial, rsaPub.N.BitLen())
	}
	return rsaPub, nil
}

// ParsePrivateKey imports an RSA private key from PEM ("RSA PRIVATE KEY" for
// PKCS#1, "PRIVATE KEY" for PKCS#8) or from unarmored base64 DER.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	der, blockType, err := decodeKey(data)
	if err != nil {
		return nil, err
	}

	var key any
	switch blockType {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(der)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(der)
	case "":
		key, err = x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			key, err = x509.ParsePKCS1PrivateKey(der)
		}
	case "PUBLIC KEY", "RSA PUBLIC KEY", "CERTIFICATE":
		return nil, fmt.Errorf("%w: expected a private key, got %q block", waaserr.ErrInvalidKeyMaterial, blockType)
	default:
		return nil, fmt.Errorf("%w: unsupported PEM block %q", waaserr.ErrInvalidKeyMaterial, blockType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", waaserr.ErrInvalidKeyMaterial, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is %T, not RSA", waaserr.ErrInvalidKeyMaterial, key)
	}
	if rsaKey.N.BitLen() < minRSABits {
		return nil, fmt.Errorf("%w: RSA key has %d bits", waaserr.ErrInvalidKeyMaterial, rsaKey.N.BitLen())
	}
	if err := rsaKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", waaserr.ErrInvalidKeyMaterial, err)
	}
	return rsaKey, nil
}

// Fingerprint identifies a public key in diagnostics without revealing it.
func Fingerprint(pub *rsa.PublicKey) string {
	if pub == nil {
		return "none"
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:8])
}

// decodeKey returns DER bytes and the PEM block type ("" for bare base64).
func decodeKey(data []byte) ([]byte, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("%w: empty key", waaserr.ErrInvalidKeyMaterial)
	}
	if block, _ := pem.Decode(trimmed); block != nil {
		if x509.IsEncryptedPEMBlock(block) {
			return nil, "", fmt.Errorf("%w: encrypted PEM is not supported", waaserr.ErrInvalidKeyMaterial)
		}
		return block.Bytes, block.Type, nil
	}
	if bytes.HasPrefix(trimmed, []byte("-----")) {
		return nil, "", fmt.Errorf("%w: malformed PEM armor", waaserr.ErrInvalidKeyMaterial)
	}
	compact := strings.Join(strings.Fields(string(trimmed)), "")
	der, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, "", fmt.Errorf("%w: neither PEM nor base64 DER", waaserr.ErrInvalidKeyMaterial)
	}
	return der, "", nil
}

//go:build softhsm

package hsm

import (
	"crypto/rsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/Te-De-CX/Waas/internal/security"
)

// Key is an RSA signing key that never leaves a PKCS#11 token.
// Enabled with the softhsm build tag so default builds do not need cgo.
type Key struct {
	libPath string
	slotID  uint
	pin     string
	label   string

	mu   sync.Mutex
	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	priv pkcs11.ObjectHandle
	pub  *rsa.PublicKey
}

func NewKey(libPath string, slotID uint, pin, label string) *Key {
	return &Key{libPath: libPath, slotID: slotID, pin: pin, label: label}
}

// Open logs into the token and locates the private key and its public half
// by label.
func (k *Key) Open() error {
	k.p11 = pkcs11.New(k.libPath)
	if k.p11 == nil {
		return fmt.Errorf("loading pkcs11 library %s failed", k.libPath)
	}
	if err := k.p11.Initialize(); err != nil {
		return fmt.Errorf("initializing pkcs11: %w", err)
	}
	sess, err := k.p11.OpenSession(k.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = k.p11.Finalize()
		return fmt.Errorf("opening session: %w", err)
	}
	k.sess = sess
	if err := k.p11.Login(k.sess, pkcs11.CKU_USER, k.pin); err != nil {
		_ = k.p11.CloseSession(k.sess)
		_ = k.p11.Finalize()
		return fmt.Errorf("login: %w", err)
	}

	priv, err := k.find(pkcs11.CKO_PRIVATE_KEY)
	if err != nil {
		k.Close()
		return err
	}
	k.priv = priv

	pubObj, err := k.find(pkcs11.CKO_PUBLIC_KEY)
	if err != nil {
		k.Close()
		return err
	}
	attrs, err := k.p11.GetAttributeValue(k.sess, pubObj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		k.Close()
		return fmt.Errorf("reading public key attributes: %w", err)
	}
	pub := &rsa.PublicKey{}
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_MODULUS:
			pub.N = new(big.Int).SetBytes(a.Value)
		case pkcs11.CKA_PUBLIC_EXPONENT:
			pub.E = int(new(big.Int).SetBytes(a.Value).Int64())
		}
	}
	if pub.N == nil || pub.E == 0 {
		k.Close()
		return fmt.Errorf("public key %s is missing modulus or exponent", k.label)
	}
	k.pub = pub
	return nil
}

func (k *Key) find(class uint) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, k.label),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
	}
	if err := k.p11.FindObjectsInit(k.sess, template); err != nil {
		return 0, err
	}
	objs, _, err := k.p11.FindObjects(k.sess, 1)
	_ = k.p11.FindObjectsFinal(k.sess)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("rsa key not found by label=%s class=%d", k.label, class)
	}
	return objs[0], nil
}

func (k *Key) Close() {
	if k.p11 != nil {
		if k.sess != 0 {
			_ = k.p11.Logout(k.sess)
			_ = k.p11.CloseSession(k.sess)
		}
		_ = k.p11.Finalize()
		k.p11.Destroy()
		k.p11 = nil
	}
}

func (k *Key) Public() *rsa.PublicKey { return k.pub }

// SignPKCS1v15SHA256 lets the token hash and sign in one call.
// A PKCS#11 session is single-threaded, hence the lock.
func (k *Key) SignPKCS1v15SHA256(message []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.p11 == nil {
		return nil, fmt.Errorf("hsm key %s is not open", k.label)
	}
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_SHA256_RSA_PKCS, nil)}
	if err := k.p11.SignInit(k.sess, mech, k.priv); err != nil {
		return nil, fmt.Errorf("sign init: %w", err)
	}
	sig, err := k.p11.Sign(k.sess, message)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

var _ security.RSAKey = (*Key)(nil)

//go:build softhsm

package waas

import (
	"io"

	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/security/hsm"
)

type hsmCloser struct{ key *hsm.Key }

func (c hsmCloser) Close() error {
	c.key.Close()
	return nil
}

func openSigningKey(cfg PKCS11Config) (security.RSAKey, io.Closer, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}
	key := hsm.NewKey(cfg.ModulePath, cfg.SlotID, cfg.PIN, cfg.KeyLabel)
	if err := key.Open(); err != nil {
		return nil, nil, err
	}
	return key, hsmCloser{key: key}, nil
}

//go:build !softhsm

package waas

import (
	"fmt"
	"io"

	"github.com/Te-De-CX/Waas/internal/security"
)

func openSigningKey(cfg PKCS11Config) (security.RSAKey, io.Closer, error) {
	if cfg.Enabled() {
		return nil, nil, fmt.Errorf("opay.pkcs11 is configured but this binary was built without the softhsm tag")
	}
	return nil, nil, nil
}

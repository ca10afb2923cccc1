package dispatch

import (
	"fmt"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/internal/security"
)

// HeaderNames lets an endpoint rename the identity headers it sends.
type HeaderNames struct {
	MerchantID string
	Timestamp  string
	Signature  string
}

func (h HeaderNames) withDefaults() HeaderNames {
	if h.MerchantID == "" {
		h.MerchantID = "MerchantId"
	}
	if h.Timestamp == "" {
		h.Timestamp = "X-Timestamp"
	}
	if h.Signature == "" {
		h.Signature = "X-Signature"
	}
	return h
}

// Endpoint describes how one processor operation is canonicalized, signed,
// optionally encrypted and sent.
type Endpoint struct {
	Name     string
	Path     string
	Mode     security.Mode
	Template security.Template
	Contract canonical.Contract
	Headers  HeaderNames

	// Version and BodyFormat are sent as the "version" and "bodyFormat"
	// headers when set.
	Version    string
	BodyFormat string

	// SignField also injects the signature into the JSON body under this name.
	SignField string
	// BearerAuth sends "Authorization: Bearer <public API key>".
	BearerAuth bool
	// SendClientAuthKey sends the dedicated client auth key as the
	// clientAuthKey header. Never the shared secret.
	SendClientAuthKey bool
	// EncryptedResponse asks the verifier to decrypt a string "data" field.
	EncryptedResponse bool
}

// Validate checks the descriptor once, at configuration time.
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if e.Path == "" {
		return fmt.Errorf("endpoint %s: path is required", e.Name)
	}
	if _, err := security.ParseMode(string(e.Mode)); err != nil {
		return fmt.Errorf("endpoint %s: %w", e.Name, err)
	}
	if len(e.Template) == 0 {
		return fmt.Errorf("endpoint %s: signing template is required", e.Name)
	}
	if len(e.Contract.Fields) == 0 {
		return fmt.Errorf("endpoint %s: field contract is empty", e.Name)
	}
	if e.Mode.Encrypted() && e.SignField != "" {
		return fmt.Errorf("endpoint %s: encrypted bodies already carry the signature", e.Name)
	}
	return nil
}

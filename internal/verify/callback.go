package verify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Te-De-CX/Waas/internal/expiry"
	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/waaserr"
)

const (
	HeaderTransactionID = "X-Opay-Tranid"
	HeaderMerchantID    = "MerchantId"
	HeaderSignature     = "X-Signature"
	HeaderTimestamp     = "X-Timestamp"
)

// Amount accepts both "100.00" and 100.00 and keeps the decimal text as sent.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// CallbackPayload is the body of a deposit notification.
type CallbackPayload struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	DepositCode   string `json:"depositCode"`
	DepositAmount Amount `json:"depositAmount"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference,omitempty"`
}

// CallbackEvent is a callback that passed verification. Authenticated is
// false when the processor did not sign it.
type CallbackEvent struct {
	MerchantID    string
	TransactionID string
	Authenticated bool
	Payload       CallbackPayload
	Raw           []byte
}

type CallbackOption func(*CallbackVerifier)

// WithCallbackTemplate changes what the callback signature covers. The
// default is the raw body alone.
func WithCallbackTemplate(t security.Template) CallbackOption {
	return func(v *CallbackVerifier) { v.template = t }
}

// RequireSignature rejects unsigned callbacks instead of flagging them.
func RequireSignature() CallbackOption {
	return func(v *CallbackVerifier) { v.requireSignature = true }
}

// WithMaxSkew rejects signed callbacks whose X-Timestamp is more than window
// away from now(). The callback template must cover the timestamp.
func WithMaxSkew(window time.Duration, now func() time.Time) CallbackOption {
	return func(v *CallbackVerifier) {
		v.maxSkew = window
		v.now = now
	}
}

type CallbackVerifier struct {
	merchantID       string
	secret           []byte
	template         security.Template
	requireSignature bool
	maxSkew          time.Duration
	now              func() time.Time
}

func NewCallbackVerifier(creds *security.Credentials, opts ...CallbackOption) (*CallbackVerifier, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	v := &CallbackVerifier{
		merchantID: creds.MerchantID(),
		secret:     []byte(creds.Secret()),
		template:   security.Template{security.PartPayload},
	}
	for _, opt := range opts {
		opt(v)
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: callback verification needs the shared secret", waaserr.ErrInvalidKeyMaterial)
	}
	if v.maxSkew > 0 && !v.template.Covers(security.PartTimestamp) {
		return nil, fmt.Errorf("callback max skew needs a template that signs the timestamp, got %s", v.template)
	}
	return v, nil
}

// Verify authenticates a callback before anything in it is trusted. The
// signature is checked over the bytes received, never over a re-encoding.
func (v *CallbackVerifier) Verify(header http.Header, body []byte) (*CallbackEvent, error) {
	tranID := strings.TrimSpace(header.Get(HeaderTransactionID))
	merchantID := strings.TrimSpace(header.Get(HeaderMerchantID))
	if tranID == "" || merchantID == "" {
		return nil, fmt.Errorf("%w: %s and %s are required", waaserr.ErrMissingCallbackHeaders, HeaderTransactionID, HeaderMerchantID)
	}
	if merchantID != v.merchantID {
		return nil, fmt.Errorf("%w: got %s", waaserr.ErrMerchantMismatch, merchantID)
	}

	authenticated := false
	if sig := strings.TrimSpace(header.Get(HeaderSignature)); sig != "" {
		msg := v.template.Render(security.TemplateInput{
			Payload:   string(body),
			Timestamp: header.Get(HeaderTimestamp),
			Secret:    string(v.secret),
		})
		if !security.VerifyHMAC(v.secret, msg, sig) {
			return nil, waaserr.ErrInvalidCallbackSignature
		}
		if v.maxSkew > 0 {
			if err := expiry.CheckSkew(header.Get(HeaderTimestamp), v.now(), v.maxSkew); err != nil {
				return nil, fmt.Errorf("%w: %w", waaserr.ErrInvalidCallbackSignature, err)
			}
		}
		authenticated = true
	} else if v.requireSignature {
		return nil, fmt.Errorf("%w: %s header missing", waaserr.ErrInvalidCallbackSignature, HeaderSignature)
	}

	var payload CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: callback body: %v", waaserr.ErrContractViolation, err)
	}

	return &CallbackEvent{
		MerchantID:    merchantID,
		TransactionID: tranID,
		Authenticated: authenticated,
		Payload:       payload,
		Raw:           body,
	}, nil
}

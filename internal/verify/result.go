// Package verify checks what the processor sends back: synchronous call
// results and asynchronous callbacks.
package verify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/waaserr"
)

const SuccessCode = "00000"

// Result is a processor answer whose code was "00000". Data is plaintext
// JSON even when the processor sent it encrypted.
type Result struct {
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
	HTTPStatus int             `json:"-"`
}

func (r *Result) Success() bool { return r.Code == SuccessCode }

// Decode unmarshals Data into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 || bytes.Equal(r.Data, []byte("null")) {
		return fmt.Errorf("response carries no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// code accepts "00000" as well as a bare number some gateways emit.
type code string

func (c *code) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = code(n.String())
	return nil
}

type rawResult struct {
	Code    code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ParseResult classifies a processor answer. Non-2xx statuses become
// *waaserr.HTTPStatusError, codes other than "00000" become
// *waaserr.RemoteRejected. When dec is set and data is a JSON string, it is
// decrypted; any failure there is ErrDecryptionError and no data is returned.
func ParseResult(status int, body []byte, dec *security.Decryptor) (*Result, error) {
	var raw rawResult
	jsonErr := json.Unmarshal(body, &raw)

	if status < 200 || status > 299 {
		e := &waaserr.HTTPStatusError{StatusCode: status}
		if jsonErr == nil {
			e.RemoteCode = string(raw.Code)
			e.RemoteMessage = raw.Message
		}
		return nil, e
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decoding processor response: %w", jsonErr)
	}
	if raw.Code == "" {
		return nil, fmt.Errorf("processor response has no result code")
	}
	if raw.Code != SuccessCode {
		return nil, &waaserr.RemoteRejected{Code: string(raw.Code), Message: raw.Message, HTTPStatus: status}
	}

	res := &Result{Code: string(raw.Code), Message: raw.Message, Data: raw.Data, HTTPStatus: status}
	if dec != nil && len(raw.Data) > 0 && raw.Data[0] == '"' {
		var ciphertext string
		if err := json.Unmarshal(raw.Data, &ciphertext); err != nil {
			return nil, fmt.Errorf("%w: data field: %v", waaserr.ErrDecryptionError, err)
		}
		plain, err := dec.Decrypt(ciphertext)
		if err != nil {
			return nil, err
		}
		res.Data = plain
	}
	return res, nil
}

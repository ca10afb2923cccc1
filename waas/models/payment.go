package models

import "encoding/json"

// InitializePayment is what callers supply; the client fills the rest.
// Amount is a decimal string, never a float.
type InitializePayment struct {
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	Reference     string      `json:"reference,omitempty"`
	CallbackURL   string      `json:"callbackUrl"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	CustomerName  string      `json:"customerName,omitempty"`
}

type Payment struct {
	PaymentURL string `json:"paymentUrl"`
	Reference  string `json:"reference"`
	// ExpireAt is unix seconds after which the checkout no longer accepts payment.
	ExpireAt int64 `json:"expireAt,omitempty"`
}

// TransactionEvent is handed to the ledger once a callback is verified.
type TransactionEvent struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	DepositCode   string `json:"depositCode,omitempty"`
	Reference     string `json:"reference,omitempty"`
	MerchantID    string `json:"merchantId"`
	Authenticated bool   `json:"authenticated"`
}

// Reply is the {code,message} pair the processor expects back from a
// callback, also used for every error this service returns.
type Reply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success,omitempty"`
	Data    any    `json:"data,omitempty"`
}

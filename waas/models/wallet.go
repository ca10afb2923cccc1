package models

type CreateWallet struct {
	Name             string `json:"name"`
	RefID            string `json:"refId,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	AccountType      string `json:"accountType,omitempty"`
	SendPassWordFlag string `json:"sendPassWordFlag,omitempty"`
}

// Wallet is the static deposit account the processor allocates.
type Wallet struct {
	DepositCode  string `json:"depositCode"`
	Name         string `json:"name"`
	RefID        string `json:"refId,omitempty"`
	EmailOrPhone string `json:"emailOrPhone,omitempty"`
	AccountType  string `json:"accountType"`
}

type QueryBalance struct {
	DepositCode string `json:"depositCode"`
}

type Balance struct {
	DepositCode string `json:"depositCode,omitempty"`
	Balance     string `json:"balance,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

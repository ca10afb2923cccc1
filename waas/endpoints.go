package waas

import (
	"fmt"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/internal/dispatch"
	"github.com/Te-De-CX/Waas/internal/security"
)

const (
	EndpointCreateWallet      = "create_wallet"
	EndpointQueryBalance      = "query_balance"
	EndpointInitializePayment = "initialize_payment"
)

// Field order is the order the processor's reference clients serialize in;
// signatures depend on it.
var builtinEndpoints = map[string]dispatch.Endpoint{
	EndpointCreateWallet: {
		Name:     EndpointCreateWallet,
		Path:     "/api/v2/third/depositcode/generateStaticDepositCode",
		Mode:     security.ModeHMACPlain,
		Template: security.MustTemplate("payload+timestamp+secret+salt"),
		Contract: canonical.Fields(EndpointCreateWallet,
			"opayMerchantId", "name", "refId", "email", "phone", "accountType", "sendPassWordFlag"),
		Version:    "2",
		BodyFormat: "JSON",
		SignField:  "sign",
	},
	EndpointQueryBalance: {
		Name:       EndpointQueryBalance,
		Path:       "/api/v2/third/depositcode/queryWalletBalance",
		Mode:       security.ModeHMACPlain,
		Template:   security.MustTemplate("payload+timestamp+secret+salt"),
		Contract:   canonical.Fields(EndpointQueryBalance, "opayMerchantId", "depositCode"),
		Version:    "2",
		BodyFormat: "JSON",
	},
	EndpointInitializePayment: {
		Name:     EndpointInitializePayment,
		Path:     "/api/v3/waas/transaction/initialize",
		Mode:     security.ModeHMACPlain,
		Template: security.MustTemplate("payload+secret"),
		Contract: canonical.Fields(EndpointInitializePayment,
			"amount", "currency", "reference", "callbackUrl", "customerEmail", "customerName",
			"merchantId", "country", "paymentMethod", "productName", "productDescription",
			"returnUrl", "expireAt"),
		BearerAuth: true,
	},
}

// Endpoint returns the built-in descriptor with configured overrides applied.
func (c *Config) Endpoint(name string) (dispatch.Endpoint, error) {
	ep, ok := builtinEndpoints[name]
	if !ok {
		return dispatch.Endpoint{}, fmt.Errorf("unknown endpoint %q", name)
	}
	ec := c.Endpoints[name]

	if ec.Path != "" {
		ep.Path = ec.Path
	}
	if ec.Mode != "" {
		mode, err := security.ParseMode(ec.Mode)
		if err != nil {
			return dispatch.Endpoint{}, fmt.Errorf("endpoint %s: %w", name, err)
		}
		ep.Mode = mode
	}
	if ec.Template != "" {
		tpl, err := security.ParseTemplate(ec.Template)
		if err != nil {
			return dispatch.Endpoint{}, fmt.Errorf("endpoint %s: %w", name, err)
		}
		ep.Template = tpl
	}
	if ec.Version != nil {
		ep.Version = *ec.Version
	}
	if ec.BodyFormat != nil {
		ep.BodyFormat = *ec.BodyFormat
	}
	if ec.SignField != nil {
		ep.SignField = *ec.SignField
	}
	if ec.BearerAuth != nil {
		ep.BearerAuth = *ec.BearerAuth
	}
	if ec.SendClientAuthKey != nil {
		ep.SendClientAuthKey = *ec.SendClientAuthKey
	}
	if ec.EncryptedResponse != nil {
		ep.EncryptedResponse = *ec.EncryptedResponse
	}
	if ep.Mode.Encrypted() {
		ep.SignField = ""
	}

	if err := ep.Validate(); err != nil {
		return dispatch.Endpoint{}, err
	}
	return ep, nil
}

// EndpointNames lists the built-in endpoints.
func EndpointNames() []string {
	return []string{EndpointCreateWallet, EndpointQueryBalance, EndpointInitializePayment}
}

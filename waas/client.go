package waas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/canonical"
	"github.com/Te-De-CX/Waas/internal/dispatch"
	"github.com/Te-De-CX/Waas/internal/expiry"
	"github.com/Te-De-CX/Waas/internal/security"
	"github.com/Te-De-CX/Waas/internal/verify"
	"github.com/Te-De-CX/Waas/internal/waaserr"
	"github.com/Te-De-CX/Waas/waas/models"
)

var decimalAmount = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

var (
	ErrNoPaymentURL   = errors.New("no payment url in response")
	ErrPaymentExpired = errors.New("payment expired before it was opened")
)

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	now        func() time.Time
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithClock fixes the time used for timestamps, default references and
// payment expiry.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) { o.now = now }
}

// Client calls the processor's wallet and payment operations.
type Client struct {
	dispatcher      *dispatch.Dispatcher
	endpoints       map[string]dispatch.Endpoint
	decryptor       *security.Decryptor
	merchantID      string
	publicBaseURL   string
	paymentLifetime time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func NewClient(logger *slog.Logger, cfg *Config, creds *security.Credentials, opts ...ClientOption) (*Client, error) {
	o := clientOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	dopts := []dispatch.Option{
		dispatch.WithRetryPolicy(cfg.RetryPolicy()),
		dispatch.WithUserAgent(cfg.OPay.UserAgent),
		dispatch.WithClock(o.now),
	}
	if o.httpClient != nil {
		dopts = append(dopts, dispatch.WithHTTPClient(o.httpClient))
	}
	d, err := dispatch.New(logger, cfg.OPay.BaseURL, creds, dopts...)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	endpoints := make(map[string]dispatch.Endpoint, len(builtinEndpoints))
	for _, name := range EndpointNames() {
		ep, err := cfg.Endpoint(name)
		if err != nil {
			return nil, err
		}
		endpoints[name] = ep
	}

	var dec *security.Decryptor
	if creds.PrivateKey() != nil {
		dec, err = security.NewDecryptor(creds.PrivateKey())
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		dispatcher:      d,
		endpoints:       endpoints,
		decryptor:       dec,
		merchantID:      creds.MerchantID(),
		publicBaseURL:   strings.TrimRight(cfg.HTTP.PublicBaseURL, "/"),
		paymentLifetime: cfg.OPay.PaymentLifetime,
		now:             o.now,
		logger:          logger.With(slog.String("component", "client")),
	}, nil
}

// CreateWallet allocates a static deposit code. refId defaults to
// ref_<unix millis>, accountType to Merchant and sendPassWordFlag to N.
func (c *Client) CreateWallet(ctx context.Context, req models.CreateWallet) (*models.Wallet, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, waaserr.Contract("name", "is required")
	}
	if req.RefID == "" {
		req.RefID = "ref_" + expiry.Millis(c.now())
	}
	if req.AccountType == "" {
		req.AccountType = "Merchant"
	}
	if req.AccountType != "Merchant" && req.AccountType != "User" {
		return nil, waaserr.Contract("accountType", "must be Merchant or User, got %q", req.AccountType)
	}
	if req.SendPassWordFlag == "" {
		req.SendPassWordFlag = "N"
	}
	if req.SendPassWordFlag != "Y" && req.SendPassWordFlag != "N" {
		return nil, waaserr.Contract("sendPassWordFlag", "must be Y or N, got %q", req.SendPassWordFlag)
	}

	res, err := c.call(ctx, EndpointCreateWallet, canonical.Values{
		"opayMerchantId":   c.merchantID,
		"name":             req.Name,
		"refId":            req.RefID,
		"email":            req.Email,
		"phone":            req.Phone,
		"accountType":      req.AccountType,
		"sendPassWordFlag": req.SendPassWordFlag,
	})
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}

	wallet := &models.Wallet{}
	if err := res.Decode(wallet); err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	return wallet, nil
}

func (c *Client) QueryBalance(ctx context.Context, depositCode string) (*models.Balance, error) {
	if strings.TrimSpace(depositCode) == "" {
		return nil, waaserr.Contract("depositCode", "is required")
	}

	res, err := c.call(ctx, EndpointQueryBalance, canonical.Values{
		"opayMerchantId": c.merchantID,
		"depositCode":    depositCode,
	})
	if err != nil {
		return nil, fmt.Errorf("querying balance: %w", err)
	}

	balance := &models.Balance{}
	if err := res.Decode(balance); err != nil {
		return nil, fmt.Errorf("querying balance: %w", err)
	}
	if balance.DepositCode == "" {
		balance.DepositCode = depositCode
	}
	return balance, nil
}

// InitializePayment opens a hosted bank-transfer payment. The answer must
// carry a paymentUrl, and the payment must still be open when it arrives.
func (c *Client) InitializePayment(ctx context.Context, req models.InitializePayment) (*models.Payment, error) {
	amount := req.Amount.String()
	if !decimalAmount.MatchString(amount) {
		return nil, waaserr.Contract("amount", "must be a positive decimal string, got %q", amount)
	}
	if req.Currency == "" {
		return nil, waaserr.Contract("currency", "is required")
	}
	if req.CallbackURL == "" {
		return nil, waaserr.Contract("callbackUrl", "is required")
	}
	if req.Reference == "" {
		req.Reference = uuid.NewString()
	}
	if req.CustomerEmail == "" {
		req.CustomerEmail = "customer@example.com"
	}
	if req.CustomerName == "" {
		req.CustomerName = "Customer"
	}

	expireAt := expiry.PaymentExpireAt(c.now(), c.paymentLifetime)
	res, err := c.call(ctx, EndpointInitializePayment, canonical.Values{
		"amount":             amount,
		"currency":           req.Currency,
		"reference":          req.Reference,
		"callbackUrl":        req.CallbackURL,
		"customerEmail":      req.CustomerEmail,
		"customerName":       req.CustomerName,
		"merchantId":         c.merchantID,
		"country":            "NG",
		"paymentMethod":      "BankTransfer",
		"productName":        "Payment",
		"productDescription": "Payment for goods/services",
		"returnUrl":          c.publicBaseURL + "/payment/return",
		"expireAt":           expireAt,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing payment: %w", err)
	}

	payment := &models.Payment{}
	if err := res.Decode(payment); err != nil {
		return nil, fmt.Errorf("initializing payment: %w", err)
	}
	if payment.PaymentURL == "" {
		return nil, fmt.Errorf("initializing payment: %w", ErrNoPaymentURL)
	}
	if payment.Reference == "" {
		payment.Reference = req.Reference
	}
	if payment.ExpireAt == 0 {
		payment.ExpireAt = expireAt
	}
	if expiry.IsExpired(payment.ExpireAt, c.now()) {
		return nil, fmt.Errorf("initializing payment %s: %w", payment.Reference, ErrPaymentExpired)
	}
	return payment, nil
}

// Seal signs a request without sending it, for support diagnostics.
func (c *Client) Seal(name string, values canonical.Values) (*dispatch.Envelope, error) {
	ep, ok := c.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", name)
	}
	return c.dispatcher.Seal(dispatch.Request{Endpoint: ep, Values: values}, 1)
}

func (c *Client) call(ctx context.Context, name string, values canonical.Values) (*verify.Result, error) {
	ep := c.endpoints[name]

	var dec *security.Decryptor
	if ep.EncryptedResponse {
		if c.decryptor == nil {
			return nil, fmt.Errorf("%w: %s returns encrypted data but no private key is configured", waaserr.ErrInvalidKeyMaterial, name)
		}
		dec = c.decryptor
	}

	resp, err := c.dispatcher.Dispatch(ctx, dispatch.Request{Endpoint: ep, Values: values})
	if err != nil {
		return nil, err
	}

	res, err := verify.ParseResult(resp.StatusCode, resp.Body, dec)
	if err != nil {
		c.logger.Warn("processor call failed", "err", err, slog.String("endpoint", name), slog.Int("attempts", resp.Attempts))
		return nil, err
	}
	return res, nil
}

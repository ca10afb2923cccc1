package waas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Te-De-CX/Waas/internal/waaserr"
	"github.com/Te-De-CX/Waas/waas/models"
)

const (
	codeSuccess    = "00000"
	codeBadRequest = "40000"
	codeForbidden  = "40300"
	codeBadGateway = "50200"
	codeNoUpstream = "50300"
	codeTimeout    = "50400"
	codeFailure    = "99999"
)

// Processor is the subset of Client the HTTP API needs.
type Processor interface {
	CreateWallet(ctx context.Context, req models.CreateWallet) (*models.Wallet, error)
	QueryBalance(ctx context.Context, depositCode string) (*models.Balance, error)
	InitializePayment(ctx context.Context, req models.InitializePayment) (*models.Payment, error)
}

// API is the HTTP API of the gateway.
type API struct {
	processor Processor
	webhook   http.Handler
}

func NewAPI(processor Processor, webhook http.Handler) *API {
	return &API{
		processor: processor,
		webhook:   webhook,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", a.createWallet)
			r.Post("/balance", a.queryBalance)
			r.Method(http.MethodPost, "/callback", a.webhook)
		})
		r.Post("/payments", a.initializePayment)
		// path the processor dashboard was first configured with
		r.Method(http.MethodPost, "/opay-callback", a.webhook)
	})
}

func (a *API) createWallet(w http.ResponseWriter, r *http.Request) {
	create := models.CreateWallet{}
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: "invalid request body"})
		return
	}
	if create.RefID == "" && create.Email == "" && create.Phone == "" {
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: "At least one of refId, email, or phone must be provided"})
		return
	}

	wallet, err := a.processor.CreateWallet(r.Context(), create)
	if err != nil {
		writeError(w, err, "Failed to create wallet")
		return
	}

	writeJSON(w, http.StatusCreated, models.Reply{Code: codeSuccess, Message: "SUCCESSFUL", Success: true, Data: wallet})
}

func (a *API) queryBalance(w http.ResponseWriter, r *http.Request) {
	query := models.QueryBalance{}
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: "invalid request body"})
		return
	}

	balance, err := a.processor.QueryBalance(r.Context(), query.DepositCode)
	if err != nil {
		writeError(w, err, "Failed to query balance")
		return
	}

	writeJSON(w, http.StatusOK, models.Reply{Code: codeSuccess, Message: "SUCCESSFUL", Success: true, Data: balance})
}

func (a *API) initializePayment(w http.ResponseWriter, r *http.Request) {
	req := models.InitializePayment{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: "invalid request body"})
		return
	}

	payment, err := a.processor.InitializePayment(r.Context(), req)
	if err != nil {
		writeError(w, err, "Failed to initiate payment")
		return
	}

	writeJSON(w, http.StatusOK, models.Reply{Code: codeSuccess, Message: "SUCCESSFUL", Success: true, Data: payment})
}

// writeError is the one place error classes become HTTP statuses. Messages
// for crypto and internal failures are fixed strings so nothing sensitive
// reaches the caller.
func writeError(w http.ResponseWriter, err error, fallback string) {
	var rejected *waaserr.RemoteRejected
	var status *waaserr.HTTPStatusError

	switch {
	case errors.Is(err, waaserr.ErrMissingCallbackHeaders):
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: "Missing required headers"})
	case errors.Is(err, waaserr.ErrContractViolation), errors.Is(err, waaserr.ErrPayloadTooLarge):
		writeJSON(w, http.StatusBadRequest, models.Reply{Code: codeBadRequest, Message: err.Error()})
	case errors.Is(err, waaserr.ErrInvalidCallbackSignature):
		writeJSON(w, http.StatusForbidden, models.Reply{Code: codeForbidden, Message: "Invalid signature"})
	case errors.Is(err, waaserr.ErrMerchantMismatch):
		writeJSON(w, http.StatusForbidden, models.Reply{Code: codeForbidden, Message: "Invalid merchant"})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadGateway, models.Reply{Code: rejected.Code, Message: rejected.Message})
	case errors.As(err, &status):
		writeJSON(w, http.StatusBadGateway, models.Reply{Code: codeBadGateway, Message: fmt.Sprintf("processor answered http %d", status.StatusCode)})
	case errors.Is(err, waaserr.ErrTransientNetwork):
		writeJSON(w, http.StatusServiceUnavailable, models.Reply{Code: codeNoUpstream, Message: "processor unreachable"})
	case errors.Is(err, waaserr.ErrNetwork):
		writeJSON(w, http.StatusGatewayTimeout, models.Reply{Code: codeTimeout, Message: "processor did not answer"})
	default:
		writeJSON(w, http.StatusInternalServerError, models.Reply{Code: codeFailure, Message: fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

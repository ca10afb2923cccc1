package waas

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/exp/slog"

	"github.com/Te-De-CX/Waas/internal/verify"
	"github.com/Te-De-CX/Waas/waas/models"
)

const maxCallbackBytes = 64 << 10

// Webhook receives the processor's asynchronous transaction callbacks.
type Webhook struct {
	verifier *verify.CallbackVerifier
	recorder Recorder
	logger   *slog.Logger
}

func NewWebhook(logger *slog.Logger, verifier *verify.CallbackVerifier, recorder Recorder) *Webhook {
	return &Webhook{
		verifier: verifier,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "webhook")),
	}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes+1))
	if err != nil {
		h.fail(w, fmt.Errorf("reading callback body: %w", err))
		return
	}
	if len(body) > maxCallbackBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, models.Reply{Code: codeBadRequest, Message: "Callback body too large"})
		return
	}

	ev, err := h.verifier.Verify(r.Header, body)
	if err != nil {
		h.logger.Warn("callback rejected", "err", err, slog.String("transaction_id", r.Header.Get(verify.HeaderTransactionID)))
		h.fail(w, err)
		return
	}

	event := models.TransactionEvent{
		TransactionID: ev.TransactionID,
		Status:        ev.Payload.Status,
		Amount:        string(ev.Payload.DepositAmount),
		Currency:      ev.Payload.Currency,
		DepositCode:   ev.Payload.DepositCode,
		Reference:     ev.Payload.Reference,
		MerchantID:    ev.MerchantID,
		Authenticated: ev.Authenticated,
	}
	if !ev.Authenticated {
		h.logger.Warn("unsigned callback accepted", slog.String("transaction_id", ev.TransactionID))
	}

	err = h.recorder.RecordTransactionEvent(r.Context(), event)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		h.logger.Info("duplicate callback", slog.String("transaction_id", ev.TransactionID), slog.String("status", ev.Payload.Status))
	case err != nil:
		h.logger.Error("recording callback", "err", err, slog.String("transaction_id", ev.TransactionID))
		h.fail(w, err)
		return
	default:
		h.logger.Info("callback recorded",
			slog.String("transaction_id", ev.TransactionID),
			slog.String("status", ev.Payload.Status),
			slog.Bool("authenticated", ev.Authenticated),
		)
	}

	writeJSON(w, http.StatusOK, models.Reply{Code: codeSuccess, Message: "SUCCESSFUL"})
}

func (h *Webhook) fail(w http.ResponseWriter, err error) {
	writeError(w, err, "Failed to process webhook")
}

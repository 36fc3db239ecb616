package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/payment"
	"barpos/backend/internal/store"
)

func (a *API) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	intent, err := a.service.GetPaymentIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": intent})
}

func (a *API) handleReconcilePayment(w http.ResponseWriter, r *http.Request) {
	var req domain.ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	intent, err := a.service.ReconcilePayment(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": intent})
}

// handleMpesaCallback receives Daraja STK results. Daraja retries anything
// but a 200 acknowledgement, so results the service cannot match are still
// acknowledged once logged.
func (a *API) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if a.callbackToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.callbackToken)) != 1 {
		a.writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	cb, err := payment.ParseCallback(body)
	if err != nil {
		a.logger.Warn("malformed payment callback", zap.Error(err))
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	intent, err := a.service.ConfirmPayment(r.Context(), cb.Handle, cb.Success, cb.Message)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.logger.Warn("payment callback for unknown handle", zap.String("handle", cb.Handle))
	case err != nil:
		a.logger.Error("payment callback not applied", zap.String("handle", cb.Handle), zap.Error(err))
	default:
		a.logger.Info("payment callback applied",
			zap.String("intent_id", intent.ID),
			zap.String("status", string(intent.Status)))
	}

	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

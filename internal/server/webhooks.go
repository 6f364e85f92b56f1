package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fundline/internal/domain"
	"fundline/internal/settlement"
)

// Webhooks are plain chi handlers outside Huma: verifiers need the raw
// request body and headers exactly as the provider sent them.
func registerWebhooks(r chi.Router, d *settlement.Dispatcher) {
	if d == nil {
		return
	}
	r.Post("/webhooks/stripe", webhookHandler(d, domain.ProviderStripe))
	r.Post("/webhooks/paypal", webhookHandler(d, domain.ProviderPayPal))
}

func webhookHandler(d *settlement.Dispatcher, provider domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		res, err := d.HandleSettlement(provider, r.Header, body)
		if err != nil {
			// One uniform answer for every verification failure; the cause
			// must not be recoverable from the response.
			if errors.Is(err, settlement.ErrVerification) {
				writeWebhookError(w, http.StatusBadRequest, "verification failed")
				return
			}
			writeWebhookError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(WebhookResponse{
			Status:   string(res.Status),
			IntentID: res.IntentID,
		})
	}
}

func writeWebhookError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": http.StatusText(status), "message": msg},
	})
}

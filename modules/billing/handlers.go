package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	pkgbilling "github.com/dmitrymomot/subsync/pkg/billing"
)

// maxWebhookBody bounds notification payloads; provider events are a few KB.
const maxWebhookBody = 1 << 20

type handlers struct {
	svc  pkgbilling.Service
	opts RouterOptions
}

type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	Email      string `json:"email,omitempty"`
}

type cancelRequest struct {
	CancelImmediately bool `json:"cancel_immediately,omitempty"`
}

type portalRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pkgbilling.GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.svc.CreateCheckoutSession(r.Context(), accountID, req.PriceID, pkgbilling.CheckoutOptions{
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pkgbilling.GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.svc.RequestCancellation(r.Context(), accountID, req.CancelImmediately)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	message := "Your subscription will be canceled at the end of the billing period."
	if req.CancelImmediately {
		message = "Your subscription has been canceled."
	}

	var accessUntil *string
	if result.AccessUntil != nil {
		formatted := result.AccessUntil.Format(time.RFC3339)
		accessUntil = &formatted
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"message":              message,
		"access_until":         accessUntil,
		"cancel_at_period_end": result.CancelAtPeriodEnd,
	})
}

func (h *handlers) portal(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pkgbilling.GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req portalRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	url, err := h.svc.CustomerPortalURL(r.Context(), accountID, req.ReturnURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// webhook receives provider notifications. Only two answers matter to the
// provider: 2xx stops redelivery, anything else schedules a retry. So a
// verification or payload failure is acknowledged as unprocessable (a
// redelivery of the same bytes cannot turn valid), while transient store
// failures return 500 to lean on the provider's redelivery.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	outcome, err := h.svc.HandleNotification(r.Context(), payload, r.Header.Get(h.opts.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, pkgbilling.ErrVerificationFailed):
			writeError(w, http.StatusBadRequest, "signature verification failed")
		case errors.Is(err, pkgbilling.ErrMalformedNotification):
			h.opts.Logger.ErrorContext(r.Context(), "malformed billing notification, manual replay required",
				slog.Any("error", err))
			writeError(w, http.StatusBadRequest, "malformed notification")
		default:
			h.opts.Logger.ErrorContext(r.Context(), "failed to reconcile billing notification",
				slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "reconciliation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"received": string(outcome.Op)})
}

func (h *handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pkgbilling.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, pkgbilling.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pkgbilling.ErrNoSubscription):
		writeError(w, http.StatusNotFound, "no subscription on file")
	case errors.Is(err, pkgbilling.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, pkgbilling.ErrUpstream):
		h.opts.Logger.ErrorContext(r.Context(), "billing provider request failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "billing provider is unavailable, please retry")
	default:
		h.opts.Logger.ErrorContext(r.Context(), "billing request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/barbosaigor/investrack/internal/webhook"
	"github.com/barbosaigor/investrack/pkg/logger"
)

// WebhookHandler terminates the unauthenticated ingress: queue-provider
// job deliveries and payment-provider subscription events.
type WebhookHandler struct {
	verifier *webhook.QStashVerifier
	registry *webhook.JobRegistry
	payments *webhook.PaymentWebhook
	// baseURL is the public URL the queue provider signs as the token
	// subject, e.g. "https://api.investrack.app".
	baseURL string
	logger  *logger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(verifier *webhook.QStashVerifier, registry *webhook.JobRegistry, payments *webhook.PaymentWebhook, baseURL string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		registry: registry,
		payments: payments,
		baseURL:  baseURL,
		logger:   log,
	}
}

// RunJob handles POST /qstash/{job}. The signature covers the exact
// request URL, so the path must match what the schedule was created
// with. Retryable failures return 202 so the queue provider redelivers.
func (h *WebhookHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	requestURL := h.baseURL + r.URL.Path
	if err := h.verifier.Verify(r.Header.Get("Upstash-Signature"), body, requestURL, time.Now()); err != nil {
		h.logger.WithError(err).Warn("rejected queue delivery", "url", requestURL)
		respondAppError(w, err)
		return
	}

	jobName := chi.URLParam(r, "job")
	if err := h.registry.Run(r.Context(), jobName, body); err != nil {
		h.logger.WithError(err).Error("job delivery failed", "job", jobName)
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PaymentEvent handles POST /subscription/webhook
func (h *WebhookHandler) PaymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.payments.Process(r.Context(), body, r.Header.Get("X-Webhook-Signature")); err != nil {
		h.logger.WithError(err).Warn("rejected payment webhook")
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

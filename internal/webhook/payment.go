package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/handlers"
	apperrors "github.com/barbosaigor/investrack/internal/shared/errors"
	"github.com/barbosaigor/investrack/pkg/logger"
)

// PaymentHandler reacts to one payment-provider event type with the
// already-extracted event data.
type PaymentHandler func(ctx context.Context, data json.RawMessage) error

// PaymentWebhook verifies payment-provider deliveries and routes them
// by event type. Unknown types are acknowledged without action so the
// provider does not retry events this service does not care about.
type PaymentWebhook struct {
	secret   string
	handlers map[string]PaymentHandler
	logger   *logger.Logger
}

// NewPaymentWebhook creates a payment webhook router with the endpoint
// signing secret.
func NewPaymentWebhook(secret string, log *logger.Logger) *PaymentWebhook {
	return &PaymentWebhook{
		secret:   secret,
		handlers: make(map[string]PaymentHandler),
		logger:   log.WithField("component", "payment_webhook"),
	}
}

// Handle registers the handler for an event type.
func (p *PaymentWebhook) Handle(eventType string, h PaymentHandler) {
	p.handlers[eventType] = h
}

type paymentEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Process verifies the delivery signature and dispatches the event.
// Signature failures return BadRequest (400) per the provider contract.
func (p *PaymentWebhook) Process(ctx context.Context, body []byte, signature string) error {
	if !p.verify(body, signature) {
		return apperrors.BadRequest("invalid webhook signature")
	}

	var evt paymentEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperrors.BadRequest("malformed webhook payload")
	}

	h, ok := p.handlers[evt.Type]
	if !ok {
		p.logger.Debug("ignoring unhandled payment event", "type", evt.Type)
		return nil
	}
	if err := h(ctx, evt.Data); err != nil {
		return fmt.Errorf("failed to process %s event: %w", evt.Type, err)
	}
	return nil
}

// verify checks the hex HMAC-SHA256 of the raw body.
func (p *PaymentWebhook) verify(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// subscriptionData is the slice of the provider's subscription object
// the handlers need.
type subscriptionData struct {
	UserID     uuid.UUID  `json:"user_id"`
	Status     string     `json:"status"`
	ValidUntil *time.Time `json:"valid_until"`
}

// RegisterSubscriptionHandlers binds the subscription lifecycle events
// to the UpdateSubscription command.
func RegisterSubscriptionHandlers(p *PaymentWebhook, dispatcher *handlers.Dispatcher) {
	apply := func(status string) PaymentHandler {
		return func(ctx context.Context, data json.RawMessage) error {
			var sub subscriptionData
			if err := json.Unmarshal(data, &sub); err != nil {
				return apperrors.BadRequest("malformed subscription data")
			}
			if sub.UserID == uuid.Nil {
				return apperrors.BadRequest("subscription event missing user id")
			}
			if status == "" {
				status = sub.Status
			}
			return dispatcher.Execute(ctx, command.UpdateSubscription{
				UserID:     sub.UserID,
				Status:     status,
				ValidUntil: sub.ValidUntil,
			}, nil)
		}
	}
	p.Handle("subscription.created", apply("ACTIVE"))
	p.Handle("subscription.updated", apply(""))
	p.Handle("subscription.cancelled", apply("CANCELED"))
}

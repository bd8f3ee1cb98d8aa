/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from the
 * payment provider. It acts as the entry point for all billing notifications.
 *
 * Key features:
 * - Security: Validates the HMAC signature of incoming webhooks to ensure authenticity.
 * - Parsing: Normalizes the provider's loosely typed JSON into a domain.BillingEvent.
 * - Acknowledgement contract: once the signature verifies, the handler always
 *   responds 200, even if downstream processing fails. Non-2xx responses would
 *   trigger provider-side retry storms against events we have already claimed.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For webhook signature validation.
 * - encoding/json, io, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For event processing and models.
 */

package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lumina/billing-service/internal/domain"
)

// signatureTolerance bounds the accepted age of a signed webhook to limit
// replay of captured deliveries.
const signatureTolerance = 5 * time.Minute

// maxWebhookBodyBytes caps the accepted payload size.
const maxWebhookBodyBytes = 1 << 20

// EventProcessor is the downstream consumer of verified billing events.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event domain.BillingEvent) error
}

// WebhookHandler processes incoming billing webhooks from the payment provider.
type WebhookHandler struct {
	processor EventProcessor
	secret    string
	now       func() time.Time
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(processor EventProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		now:       time.Now,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=error component=webhook msg=\"failed to read webhook body\" err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(r.Header.Get("Webhook-Signature"), body); err != nil {
		log.Printf("level=warn component=webhook msg=\"rejected webhook\" remote=%s err=%v", r.RemoteAddr, err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	event, err := parseBillingEvent(body)
	if err != nil {
		log.Printf("level=warn component=webhook msg=\"unparseable webhook payload\" err=%v", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	// Signature verified: always acknowledge from here on. A processing
	// failure must not trigger a provider retry of an event the processor
	// may already have claimed.
	if err := h.processor.ProcessEvent(r.Context(), *event); err != nil {
		log.Printf("level=error component=webhook msg=\"event processing failed; acknowledging anyway\" event_id=%s type=%s err=%v", event.EventID, event.Type, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}

// verifySignature checks the provider's "t=<unix>,v1=<hex>" signature header
// where v1 is HMAC-SHA256 over "<t>.<body>" with the endpoint secret.
func (h *WebhookHandler) verifySignature(header string, body []byte) error {
	if h.secret == "" {
		return fmt.Errorf("webhook secret is not configured")
	}
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed signature timestamp")
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("signature header carries no timestamp or v1 signature")
	}

	age := h.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return fmt.Errorf("no matching v1 signature")
}

// webhookEnvelope mirrors the provider's event envelope.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSessionObject is the data.object for checkout.session.completed.
type checkoutSessionObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountTotal  int64  `json:"amount_total"`
	Currency     string `json:"currency"`
	Metadata     struct {
		UserID   string `json:"userId"`
		PlanID   string `json:"planId"`
		Credits  string `json:"credits"`
		PlanType string `json:"planType"`
	} `json:"metadata"`
}

// invoiceObject is the data.object for invoice.* events.
type invoiceObject struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	AttemptCount  int    `json:"attempt_count"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
}

// subscriptionObject is the data.object for customer.subscription.* events.
type subscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

// parseBillingEvent normalizes a raw provider payload into a BillingEvent.
// Unknown event types still parse (the processor ignores them); a payload
// that does not even carry an event id and type is rejected.
func parseBillingEvent(body []byte) (*domain.BillingEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, fmt.Errorf("event envelope missing id or type")
	}

	event := &domain.BillingEvent{
		EventID:    envelope.ID,
		Type:       envelope.Type,
		OccurredAt: time.Unix(envelope.Created, 0).UTC(),
	}

	switch envelope.Type {
	case domain.EventCheckoutSessionCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("invalid checkout session object: %w", err)
		}
		event.SessionID = session.ID
		event.CustomerID = session.Customer
		event.SubscriptionID = session.Subscription
		event.AccountID = session.Metadata.UserID
		event.PlanID = session.Metadata.PlanID
		event.PlanType = domain.PlanType(session.Metadata.PlanType)
		event.AmountPaid = session.AmountTotal
		event.Currency = session.Currency
		if session.Metadata.Credits != "" {
			credits, err := strconv.ParseInt(session.Metadata.Credits, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid credits metadata %q: %w", session.Metadata.Credits, err)
			}
			event.Credits = credits
		}
	case domain.EventInvoicePaymentSucceeded, domain.EventInvoicePaymentFailed:
		var invoice invoiceObject
		if err := json.Unmarshal(envelope.Data.Object, &invoice); err != nil {
			return nil, fmt.Errorf("invalid invoice object: %w", err)
		}
		event.InvoiceID = invoice.ID
		event.CustomerID = invoice.Customer
		event.SubscriptionID = invoice.Subscription
		event.BillingReason = invoice.BillingReason
		event.AttemptCount = invoice.AttemptCount
		event.AmountPaid = invoice.AmountPaid
		event.Currency = invoice.Currency
	case domain.EventSubscriptionDeleted:
		var subscription subscriptionObject
		if err := json.Unmarshal(envelope.Data.Object, &subscription); err != nil {
			return nil, fmt.Errorf("invalid subscription object: %w", err)
		}
		event.SubscriptionID = subscription.ID
		event.CustomerID = subscription.Customer
	}

	return event, nil
}

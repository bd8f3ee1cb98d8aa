package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumina/billing-service/internal/domain"
)

type processorStub struct {
	events []domain.BillingEvent
	err    error
}

func (p *processorStub) ProcessEvent(ctx context.Context, event domain.BillingEvent) error {
	p.events = append(p.events, event)
	return p.err
}

const testWebhookSecret = "whsec_test"

func signPayload(t *testing.T, secret, payload string, at time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(handler *WebhookHandler, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(payload))
	if signature != "" {
		req.Header.Set("Webhook-Signature", signature)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

const checkoutPayload = `{
	"id": "evt_1",
	"type": "checkout.session.completed",
	"created": 1756500000,
	"data": {"object": {
		"id": "cs_123",
		"customer": "cus_1",
		"subscription": "sub_1",
		"amount_total": 999,
		"currency": "usd",
		"metadata": {"userId": "8b9c6f54-4b3a-4f43-9c21-000000000001", "planId": "pro_monthly", "credits": "500", "planType": "subscription"}
	}}
}`

func TestWebhookHandler_ValidSignatureProcessesEvent(t *testing.T) {
	processor := &processorStub{}
	handler := NewWebhookHandler(processor, testWebhookSecret)
	now := time.Unix(1756500030, 0)
	handler.now = func() time.Time { return now }

	recorder := postWebhook(handler, checkoutPayload, signPayload(t, testWebhookSecret, checkoutPayload, now))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(processor.events) != 1 {
		t.Fatalf("expected one processed event, got %d", len(processor.events))
	}

	event := processor.events[0]
	if event.EventID != "evt_1" || event.Type != domain.EventCheckoutSessionCompleted {
		t.Fatalf("unexpected envelope: id=%s type=%s", event.EventID, event.Type)
	}
	if event.SessionID != "cs_123" || event.Credits != 500 || event.PlanType != domain.PlanTypeSubscription {
		t.Fatalf("unexpected checkout fields: session=%s credits=%d plan_type=%s", event.SessionID, event.Credits, event.PlanType)
	}
	if event.AccountID != "8b9c6f54-4b3a-4f43-9c21-000000000001" {
		t.Fatalf("expected account id from metadata, got %q", event.AccountID)
	}
}

func TestWebhookHandler_InvalidSignatureRejected(t *testing.T) {
	processor := &processorStub{}
	handler := NewWebhookHandler(processor, testWebhookSecret)
	now := time.Unix(1756500030, 0)
	handler.now = func() time.Time { return now }

	tests := []struct {
		name      string
		signature string
	}{
		{"missing header", ""},
		{"wrong secret", signPayload(t, "whsec_other", checkoutPayload, now)},
		{"stale timestamp", signPayload(t, testWebhookSecret, checkoutPayload, now.Add(-10*time.Minute))},
		{"garbage header", "t=abc,v1=zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := postWebhook(handler, checkoutPayload, tt.signature)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
		})
	}
	if len(processor.events) != 0 {
		t.Fatalf("expected no events processed, got %d", len(processor.events))
	}
}

func TestWebhookHandler_TamperedBodyRejected(t *testing.T) {
	processor := &processorStub{}
	handler := NewWebhookHandler(processor, testWebhookSecret)
	now := time.Unix(1756500030, 0)
	handler.now = func() time.Time { return now }

	signature := signPayload(t, testWebhookSecret, checkoutPayload, now)
	tampered := strings.Replace(checkoutPayload, `"credits": "500"`, `"credits": "50000"`, 1)

	recorder := postWebhook(handler, tampered, signature)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tampered body, got %d", recorder.Code)
	}
}

func TestWebhookHandler_ProcessingFailureStillAcknowledged(t *testing.T) {
	processor := &processorStub{err: errors.New("database unavailable")}
	handler := NewWebhookHandler(processor, testWebhookSecret)
	now := time.Unix(1756500030, 0)
	handler.now = func() time.Time { return now }

	recorder := postWebhook(handler, checkoutPayload, signPayload(t, testWebhookSecret, checkoutPayload, now))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 despite processing failure, got %d", recorder.Code)
	}
}

func TestWebhookHandler_UnparseablePayloadRejected(t *testing.T) {
	processor := &processorStub{}
	handler := NewWebhookHandler(processor, testWebhookSecret)
	now := time.Unix(1756500030, 0)
	handler.now = func() time.Time { return now }

	payload := `{"not": "an event"}`
	recorder := postWebhook(handler, payload, signPayload(t, testWebhookSecret, payload, now))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparseable payload, got %d", recorder.Code)
	}
	if len(processor.events) != 0 {
		t.Fatal("expected no events processed")
	}
}

func TestParseBillingEvent_InvoiceFields(t *testing.T) {
	payload := `{
		"id": "evt_9",
		"type": "invoice.payment_failed",
		"created": 1756500000,
		"data": {"object": {
			"id": "in_77",
			"customer": "cus_9",
			"subscription": "sub_9",
			"billing_reason": "subscription_cycle",
			"attempt_count": 3,
			"amount_paid": 0,
			"currency": "usd"
		}}
	}`

	event, err := parseBillingEvent([]byte(payload))
	if err != nil {
		t.Fatalf("expected parse to succeed, got %v", err)
	}
	if event.InvoiceID != "in_77" || event.AttemptCount != 3 {
		t.Fatalf("unexpected invoice fields: invoice=%s attempts=%d", event.InvoiceID, event.AttemptCount)
	}
	if event.IdempotencyKey() != "in_77" {
		t.Fatalf("expected invoice-keyed dedup, got %s", event.IdempotencyKey())
	}
}

package domain

import "testing"

func TestNextSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name       string
		current    SubscriptionStatus
		transition SubscriptionTransition
		want       SubscriptionStatus
		wantOK     bool
	}{
		{"activate from none", SubscriptionNone, TransitionActivate, SubscriptionActive, true},
		{"activate while active refreshes", SubscriptionActive, TransitionActivate, SubscriptionActive, true},
		{"re-subscribe after cancel", SubscriptionCanceled, TransitionActivate, SubscriptionActive, true},
		{"re-subscribe after expiry", SubscriptionExpired, TransitionActivate, SubscriptionActive, true},
		{"renew active", SubscriptionActive, TransitionRenew, SubscriptionActive, true},
		{"renew canceled is no-op", SubscriptionCanceled, TransitionRenew, SubscriptionCanceled, false},
		{"renew none is no-op", SubscriptionNone, TransitionRenew, SubscriptionNone, false},
		{"cancel active", SubscriptionActive, TransitionCancel, SubscriptionCanceled, true},
		{"cancel expired is no-op", SubscriptionExpired, TransitionCancel, SubscriptionExpired, false},
		{"expire active", SubscriptionActive, TransitionExpire, SubscriptionExpired, true},
		{"expire none is no-op", SubscriptionNone, TransitionExpire, SubscriptionNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextSubscriptionStatus(tt.current, tt.transition)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("expected (%s, %t), got (%s, %t)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestSplitDeduction(t *testing.T) {
	tests := []struct {
		name             string
		permanent        int64
		subscription     int64
		amount           int64
		fromSubscription int64
		fromPermanent    int64
	}{
		{"subscription covers all", 50, 100, 10, 10, 0},
		{"spills into permanent", 50, 4, 10, 4, 6},
		{"no subscription credits", 50, 0, 10, 0, 10},
		{"drains both exactly", 6, 4, 10, 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := SplitDeduction(tt.permanent, tt.subscription, tt.amount)
			if split.FromSubscription != tt.fromSubscription || split.FromPermanent != tt.fromPermanent {
				t.Fatalf("expected (sub=%d, perm=%d), got (sub=%d, perm=%d)",
					tt.fromSubscription, tt.fromPermanent, split.FromSubscription, split.FromPermanent)
			}
		})
	}
}

func TestBillingEventIdempotencyKey(t *testing.T) {
	tests := []struct {
		name  string
		event BillingEvent
		want  string
	}{
		{"checkout keys on session", BillingEvent{EventID: "evt_1", Type: EventCheckoutSessionCompleted, SessionID: "cs_1"}, "cs_1"},
		{"renewal keys on invoice", BillingEvent{EventID: "evt_1", Type: EventInvoicePaymentSucceeded, InvoiceID: "in_1"}, "in_1"},
		{"failure keys on invoice", BillingEvent{EventID: "evt_1", Type: EventInvoicePaymentFailed, InvoiceID: "in_1"}, "in_1"},
		{"cancellation keys on event id", BillingEvent{EventID: "evt_1", Type: EventSubscriptionDeleted, SubscriptionID: "sub_1"}, "evt_1"},
		{"missing session falls back", BillingEvent{EventID: "evt_1", Type: EventCheckoutSessionCompleted}, "evt_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.IdempotencyKey(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

/**
 * @description
 * This file defines the subscription lifecycle state machine. Transitions are
 * driven exclusively by billing events flowing through the webhook processor;
 * nothing in this service moves a subscription on its own schedule.
 *
 * Defined transitions:
 *   - any state     -> active    on a successful subscription payment
 *   - active        -> active    on a renewal (period refresh)
 *   - active        -> canceled  on explicit cancellation
 *   - active        -> expired   on the 3rd consecutive payment failure
 * Every other combination is a no-op. Canceled and Expired persist until a
 * new payment event arrives; they never expire further on their own.
 */

package domain

// SubscriptionTransition names the event-driven transitions of the
// subscription state machine.
type SubscriptionTransition string

const (
	TransitionActivate SubscriptionTransition = "activate"
	TransitionRenew    SubscriptionTransition = "renew"
	TransitionCancel   SubscriptionTransition = "cancel"
	TransitionExpire   SubscriptionTransition = "expire"
)

// PaymentFailureExpiryThreshold is the number of consecutive payment
// failures after which an active subscription is treated as expired.
const PaymentFailureExpiryThreshold = 3

// NextSubscriptionStatus applies a transition to the current status.
// It returns the resulting status and whether the transition is defined;
// undefined transitions leave the status unchanged.
func NextSubscriptionStatus(current SubscriptionStatus, transition SubscriptionTransition) (SubscriptionStatus, bool) {
	switch transition {
	case TransitionActivate:
		// A successful subscription payment activates from any state,
		// including re-subscription after cancellation or expiry.
		return SubscriptionActive, true
	case TransitionRenew:
		if current == SubscriptionActive {
			return SubscriptionActive, true
		}
	case TransitionCancel:
		if current == SubscriptionActive {
			return SubscriptionCanceled, true
		}
	case TransitionExpire:
		if current == SubscriptionActive {
			return SubscriptionExpired, true
		}
	}
	return current, false
}

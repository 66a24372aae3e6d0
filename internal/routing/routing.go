// Package routing maps a committed order state to a handling tier.
package routing

import (
	"github.com/kijani-supplies/order-desk/internal/model"
)

// Decision is the downstream handling instruction. Exactly three tiers
// exist; consumers branch on these values and nothing else.
type Decision string

const (
	// AutoProcess: high confidence with nothing to clarify; safe to submit.
	AutoProcess Decision = "auto_process"
	// Review: trustworthy enough to prepare, but a human confirms.
	Review Decision = "review"
	// Manual: low confidence; a human handles the whole order.
	Manual Decision = "manual"
)

// Decide maps overall confidence and the clarification flag to a tier.
// Pure function: the same state always yields the same decision.
func Decide(state *model.CumulativeState) Decision {
	switch state.OverallConfidence {
	case model.ConfidenceHigh:
		if state.RequiresClarification {
			return Review
		}
		return AutoProcess
	case model.ConfidenceMedium:
		return Review
	default:
		return Manual
	}
}

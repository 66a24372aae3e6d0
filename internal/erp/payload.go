// Package erp converts committed order state into Odoo-ready payloads and
// applies tier-based pricing.
package erp

import (
	"math"
	"strings"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// OrderLine is one line of an ERP order payload.
type OrderLine struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Confidence  string  `json:"confidence"`
	Notes       string  `json:"notes,omitempty"`
}

// Payload is the structure submitted to the ERP sales order API.
type Payload struct {
	CustomerIdentifier    string      `json:"customer_identifier"`
	OrderLines            []OrderLine `json:"order_lines"`
	RequestedDeliveryDate string      `json:"requested_delivery_date,omitempty"`
	Notes                 string      `json:"notes,omitempty"`
	SourceChannel         string      `json:"source_channel"`
	ConfidenceScore       float64     `json:"confidence_score"`
	RequiresReview        bool        `json:"requires_review"`
}

// reviewThreshold is the confidence score below which an order always goes
// to a human before submission.
const reviewThreshold = 0.8

// BuildPayload converts the running order state into an ERP payload. The
// confidence score is the lower of the average item score and the overall
// score, so one vague item cannot be papered over by confident neighbors.
func BuildPayload(state *model.CumulativeState) Payload {
	active := state.ActiveItems()

	lines := make([]OrderLine, len(active))
	sum := 0.0
	for i, item := range active {
		lines[i] = OrderLine{
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			Confidence:  string(item.Confidence),
			Notes:       item.Notes,
		}
		sum += item.Confidence.Score()
	}

	avg := 0.0
	if len(active) > 0 {
		avg = sum / float64(len(active))
	}
	score := math.Min(avg, state.OverallConfidence.Score())

	var notes []string
	if state.Urgency != "" {
		notes = append(notes, "Urgency: "+state.Urgency)
	}
	if len(state.PendingClarifications) > 0 {
		notes = append(notes, "Needs clarification: "+strings.Join(state.PendingClarifications, ", "))
	}

	customer := state.CustomerOrganization
	if customer == "" {
		customer = state.CustomerName
	}

	return Payload{
		CustomerIdentifier:    customer,
		OrderLines:            lines,
		RequestedDeliveryDate: state.DeliveryDate,
		Notes:                 strings.Join(notes, "; "),
		SourceChannel:         "whatsapp",
		ConfidenceScore:       math.Round(score*100) / 100,
		RequiresReview:        state.RequiresClarification || score < reviewThreshold,
	}
}

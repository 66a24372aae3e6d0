package model

import (
	"github.com/rotisserie/eris"
)

// Language is the primary language detected in a customer message.
type Language string

const (
	LanguageEnglish Language = "english"
	LanguageSwahili Language = "swahili"
	LanguageMixed   Language = "mixed"
)

// ExtractedItem is a single line item from one turn's extraction.
// Immutable once produced by the extractor.
type ExtractedItem struct {
	ProductName  string     `json:"product_name"`
	Quantity     float64    `json:"quantity"`
	Unit         string     `json:"unit"`
	Confidence   Confidence `json:"confidence"`
	OriginalText string     `json:"original_text,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// ExtractedOrder is the structured interpretation of one message.
type ExtractedOrder struct {
	CustomerName          string          `json:"customer_name"`
	CustomerOrganization  string          `json:"customer_organization,omitempty"`
	Items                 []ExtractedItem `json:"items"`
	RequestedDeliveryDate string          `json:"requested_delivery_date,omitempty"`
	DeliveryUrgency       string          `json:"delivery_urgency,omitempty"`
	OverallConfidence     Confidence      `json:"overall_confidence"`
	RequiresClarification bool            `json:"requires_clarification"`
	ClarificationNeeded   []string        `json:"clarification_needed,omitempty"`
	// CancelledItems carries explicit removal intents flagged by the
	// extractor ("cancel the rice"). The reconciler never infers removal
	// from omission; this is the only deactivation signal.
	CancelledItems   []string `json:"cancelled_items,omitempty"`
	DetectedLanguage Language `json:"detected_language,omitempty"`
	RawMessage       string   `json:"raw_message,omitempty"`
}

// ErrMalformedExtraction rejects an extraction that carries nothing to act
// on. The caller's state is left at its prior version.
var ErrMalformedExtraction = eris.New("model: malformed extraction")

// Validate checks structural requirements before reconciliation. An
// extraction with no items, no cancellations and no clarification request
// gives the engine nothing to do and is rejected.
func (o *ExtractedOrder) Validate() error {
	if o == nil {
		return eris.Wrap(ErrMalformedExtraction, "nil extraction")
	}
	if len(o.Items) == 0 && len(o.CancelledItems) == 0 && !o.RequiresClarification {
		return eris.Wrap(ErrMalformedExtraction, "no items and no clarification")
	}
	for i, item := range o.Items {
		if !item.Confidence.Valid() {
			return eris.Wrapf(ErrMalformedExtraction, "item %d: unknown confidence %q", i, item.Confidence)
		}
		if item.Quantity < 0 {
			return eris.Wrapf(ErrMalformedExtraction, "item %d: negative quantity", i)
		}
	}
	return nil
}

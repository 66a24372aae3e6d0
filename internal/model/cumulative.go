package model

import "time"

// CumulativeItem is one product line in a conversation's running order.
// Owned exclusively by the state manager; at most one active item per
// normalized name within a conversation.
type CumulativeItem struct {
	NormalizedName        string     `json:"normalized_name"`
	ProductName           string     `json:"product_name"`
	Quantity              float64    `json:"quantity"`
	Unit                  string     `json:"unit"`
	Confidence            Confidence `json:"confidence"`
	Notes                 string     `json:"notes,omitempty"`
	IsActive              bool       `json:"is_active"`
	ModificationCount     int        `json:"modification_count"`
	FirstMentionedMessage string     `json:"first_mentioned_message_id"`
	LastModifiedMessage   string     `json:"last_modified_message_id"`
}

// ItemChange records a quantity/unit change applied to an existing item.
type ItemChange struct {
	ProductName string  `json:"product_name"`
	OldQuantity float64 `json:"old_quantity"`
	NewQuantity float64 `json:"new_quantity"`
	OldUnit     string  `json:"old_unit"`
	NewUnit     string  `json:"new_unit"`
}

// ItemSummary identifies an item matched by a turn with no change.
type ItemSummary struct {
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
}

// ChangeRecord describes what one reconciliation did. The three lists are
// disjoint: every active item touched by the turn appears in exactly one,
// items the turn never mentioned appear in none.
type ChangeRecord struct {
	Added     []CumulativeItem `json:"added"`
	Modified  []ItemChange     `json:"modified"`
	Unchanged []ItemSummary    `json:"unchanged"`
}

// Touched returns the number of distinct items this turn touched.
func (c ChangeRecord) Touched() int {
	return len(c.Added) + len(c.Modified) + len(c.Unchanged)
}

// CumulativeState is the authoritative, versioned order view for one
// conversation, accumulated across all turns so far.
type CumulativeState struct {
	ConversationID        string           `json:"conversation_id"`
	Items                 []CumulativeItem `json:"items"`
	CustomerName          string           `json:"customer_name,omitempty"`
	CustomerOrganization  string           `json:"customer_organization,omitempty"`
	DeliveryDate          string           `json:"delivery_date,omitempty"`
	Urgency               string           `json:"urgency,omitempty"`
	OverallConfidence     Confidence       `json:"overall_confidence"`
	RequiresClarification bool             `json:"requires_clarification"`
	PendingClarifications []string         `json:"pending_clarifications,omitempty"`
	Version               int              `json:"version"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// ActiveItems returns the currently active items in order.
func (s *CumulativeState) ActiveItems() []CumulativeItem {
	active := make([]CumulativeItem, 0, len(s.Items))
	for _, item := range s.Items {
		if item.IsActive {
			active = append(active, item)
		}
	}
	return active
}

// Snapshot is an immutable audit record appended at every commit.
type Snapshot struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	MessageID      string           `json:"message_id"`
	Version        int              `json:"version"`
	Items          []CumulativeItem `json:"items"`
	Changes        ChangeRecord     `json:"changes"`
	TurnConfidence Confidence       `json:"turn_confidence"`
	CancelledItems []string         `json:"cancelled_items,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

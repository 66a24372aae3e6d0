package model

import "time"

// ConversationStatus tracks where a conversation stands.
type ConversationStatus string

const (
	ConversationActive             ConversationStatus = "active"
	ConversationNeedsClarification ConversationStatus = "needs_clarification"
	ConversationCompleted          ConversationStatus = "completed"
)

// Conversation is one message thread with a customer.
type Conversation struct {
	ID           string             `json:"id"`
	CustomerName string             `json:"customer_name,omitempty"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleCustomer  MessageRole = "customer"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single turn in a conversation. IDs are ULIDs, so their
// lexicographic order is arrival order, which commits use to reject
// replays.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Type           string      `json:"type,omitempty"` // text, voice_transcription, clarification
	CreatedAt      time.Time   `json:"created_at"`
}

// Order is a routed order produced from a committed state.
type Order struct {
	ID              string           `json:"id"`
	ConversationID  string           `json:"conversation_id"`
	CustomerName    string           `json:"customer_name,omitempty"`
	Organization    string           `json:"organization,omitempty"`
	Items           []CumulativeItem `json:"items"`
	DeliveryDate    string           `json:"delivery_date,omitempty"`
	Urgency         string           `json:"urgency,omitempty"`
	Confidence      Confidence       `json:"confidence"`
	ConfidenceScore float64          `json:"confidence_score"`
	RequiresReview  bool             `json:"requires_review"`
	RoutingDecision string           `json:"routing_decision"`
	ERPOrderRef     string           `json:"erp_order_ref,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Product is a catalog entry.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name" yaml:"name"`
	Category string  `json:"category,omitempty" yaml:"category"`
	Unit     string  `json:"unit" yaml:"unit"`
	Price    float64 `json:"price" yaml:"price"`
	InStock  bool    `json:"in_stock" yaml:"in_stock"`
}

// CustomerTier is a pricing tier.
type CustomerTier string

const (
	TierStandard CustomerTier = "standard"
	TierPremium  CustomerTier = "premium"
	TierVIP      CustomerTier = "vip"
)

// Customer is a known buyer (lodge, hotel, contact person).
type Customer struct {
	ID           string       `json:"id"`
	Name         string       `json:"name" yaml:"name"`
	Organization string       `json:"organization,omitempty" yaml:"organization"`
	Phone        string       `json:"phone,omitempty" yaml:"phone"`
	Tier         CustomerTier `json:"tier" yaml:"tier"`
	Region       string       `json:"region,omitempty" yaml:"region"`
}

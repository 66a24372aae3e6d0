// Package store persists conversations, cumulative order state and the
// append-only snapshot audit trail.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when a state save does not match the
// persisted version, which violates the single-writer-per-conversation
// invariant. The caller must reload and retry; the store never silently
// overwrites.
var ErrVersionConflict = eris.New("store: version conflict")

// ConversationFilter narrows conversation listings.
type ConversationFilter struct {
	Status model.ConversationStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for the order desk.
type Store interface {
	// Conversations and messages
	CreateConversation(ctx context.Context, customerName string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, status model.ConversationStatus) error
	ListConversations(ctx context.Context, filter ConversationFilter) ([]model.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role model.MessageRole, content, msgType string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// Cumulative state. GetState returns (nil, nil) before the first
	// commit. SaveState persists the state and appends its snapshot in one
	// transaction, guarded by an optimistic check against priorVersion.
	GetState(ctx context.Context, conversationID string) (*model.CumulativeState, error)
	SaveState(ctx context.Context, state *model.CumulativeState, snap *model.Snapshot, priorVersion int) error
	ListSnapshots(ctx context.Context, conversationID string) ([]model.Snapshot, error)
	LastSnapshot(ctx context.Context, conversationID string) (*model.Snapshot, error)
	HasSnapshotForMessage(ctx context.Context, conversationID, messageID string) (bool, error)

	// Orders
	SaveOrder(ctx context.Context, order *model.Order) error
	RecentOrders(ctx context.Context, customerName, organization string, limit int) ([]model.Order, error)
	CountOrdersByDecision(ctx context.Context) (map[string]int, error)

	// Catalog and customers
	SeedProducts(ctx context.Context, products []model.Product) error
	ListProducts(ctx context.Context) ([]model.Product, error)
	UpsertCustomer(ctx context.Context, customer model.Customer) error
	FindCustomer(ctx context.Context, name, organization string) (*model.Customer, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

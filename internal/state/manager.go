// Package state owns the versioned cumulative order aggregate, one per
// conversation, and applies reconciliation results atomically.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/reconcile"
	"github.com/kijani-supplies/order-desk/internal/store"
)

// ErrDuplicateMessage rejects a replay of an already-committed message id.
// The caller's state is unchanged; reload to observe the prior commit.
var ErrDuplicateMessage = eris.New("state: duplicate message id")

// ErrOutOfOrder rejects a commit whose message id sorts below the last
// committed one. Message ids are ULIDs, so lexicographic order is arrival
// order; accepting a late replay would rewrite history.
var ErrOutOfOrder = eris.New("state: message out of order")

// Manager serializes commits per conversation and owns every mutation of
// CumulativeState. Distinct conversations commit fully in parallel.
type Manager struct {
	store      store.Store
	reconciler *reconcile.Reconciler

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager over the given store and reconciler.
func NewManager(st store.Store, rec *reconcile.Reconciler) *Manager {
	return &Manager{
		store:      st,
		reconciler: rec,
		locks:      make(map[string]*sync.Mutex),
	}
}

// lock returns the serialization point for one conversation.
func (m *Manager) lock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// CommitResult is what one committed turn produced.
type CommitResult struct {
	State     *model.CumulativeState
	Changes   model.ChangeRecord
	Cancelled []string
	Unmatched []string
	Snapshot  *model.Snapshot
}

// Commit merges one extraction into the conversation's cumulative state:
// reconcile items, apply explicit cancellations, merge scalar fields
// last-non-null-wins, recompute confidence and clarifications, advance the
// version by exactly one and append a snapshot. The whole transition is
// atomic: on any error the prior version remains authoritative.
// Idempotent per message id.
func (m *Manager) Commit(ctx context.Context, conversationID string, extraction *model.ExtractedOrder, messageID string) (*CommitResult, error) {
	if err := extraction.Validate(); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, eris.Wrap(model.ErrMalformedExtraction, "state: empty message id")
	}

	l := m.lock(conversationID)
	l.Lock()
	defer l.Unlock()

	dup, err := m.store.HasSnapshotForMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, eris.Wrapf(ErrDuplicateMessage, "message %s", messageID)
	}
	last, err := m.store.LastSnapshot(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if last != nil && messageID < last.MessageID {
		return nil, eris.Wrapf(ErrOutOfOrder, "message %s after %s", messageID, last.MessageID)
	}

	prior, err := m.store.GetState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	priorVersion := 0
	st := &model.CumulativeState{ConversationID: conversationID}
	if prior != nil {
		st = prior
		priorVersion = prior.Version
	}

	items, changes := m.reconciler.Reconcile(st.Items, extraction.Items, messageID)

	var cancelled, unmatched []string
	if len(extraction.CancelledItems) > 0 {
		items, cancelled, unmatched = m.reconciler.Cancel(items, extraction.CancelledItems, messageID)
	}
	st.Items = items

	// Scalar fields: last non-null wins.
	if extraction.CustomerName != "" {
		st.CustomerName = extraction.CustomerName
	}
	if extraction.CustomerOrganization != "" {
		st.CustomerOrganization = extraction.CustomerOrganization
	}
	if extraction.RequestedDeliveryDate != "" {
		st.DeliveryDate = extraction.RequestedDeliveryDate
	}
	if extraction.DeliveryUrgency != "" {
		st.Urgency = extraction.DeliveryUrgency
	}

	st.OverallConfidence = OverallConfidence(st.Items)
	st.RequiresClarification = st.OverallConfidence != model.ConfidenceHigh || extraction.RequiresClarification
	st.PendingClarifications = appendUnique(st.PendingClarifications, extraction.ClarificationNeeded)
	for _, name := range unmatched {
		st.PendingClarifications = appendUnique(st.PendingClarifications, []string{"could not find item to cancel: " + name})
	}
	st.Version = priorVersion + 1
	st.UpdatedAt = time.Now().UTC()

	snap := &model.Snapshot{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		MessageID:      messageID,
		Version:        st.Version,
		Items:          cloneItems(st.Items),
		Changes:        changes,
		TurnConfidence: extraction.OverallConfidence,
		CancelledItems: cancelled,
		CreatedAt:      st.UpdatedAt,
	}

	if err := m.store.SaveState(ctx, st, snap, priorVersion); err != nil {
		return nil, err
	}

	zap.L().Info("state: committed",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.Int("version", st.Version),
		zap.Int("added", len(changes.Added)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("unchanged", len(changes.Unchanged)),
		zap.Int("cancelled", len(cancelled)),
		zap.String("confidence", string(st.OverallConfidence)),
	)

	return &CommitResult{
		State:     st,
		Changes:   changes,
		Cancelled: cancelled,
		Unmatched: unmatched,
		Snapshot:  snap,
	}, nil
}

// CancelItems deactivates items by explicit operator request, outside any
// extraction. The commit advances the version like any other turn.
func (m *Manager) CancelItems(ctx context.Context, conversationID string, names []string, messageID string) (*CommitResult, error) {
	return m.Commit(ctx, conversationID, &model.ExtractedOrder{CancelledItems: names}, messageID)
}

// Get returns the current committed state, or store.ErrNotFound before the
// first commit.
func (m *Manager) Get(ctx context.Context, conversationID string) (*model.CumulativeState, error) {
	l := m.lock(conversationID)
	l.Lock()
	defer l.Unlock()

	st, err := m.store.GetState(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.Wrapf(store.ErrNotFound, "conversation %s", conversationID)
	}
	return st, nil
}

// History returns the snapshot trail in commit order. Reads under the same
// serialization point as commits, so the list is always consistent with a
// committed version.
func (m *Manager) History(ctx context.Context, conversationID string) ([]model.Snapshot, error) {
	l := m.lock(conversationID)
	l.Lock()
	defer l.Unlock()
	return m.store.ListSnapshots(ctx, conversationID)
}

// OverallConfidence is the minimum tier across active items. No active
// items means there is nothing trustworthy to act on: LOW.
func OverallConfidence(items []model.CumulativeItem) model.Confidence {
	overall := model.Confidence("")
	for _, item := range items {
		if !item.IsActive {
			continue
		}
		if overall == "" {
			overall = item.Confidence
		} else {
			overall = model.MinConfidence(overall, item.Confidence)
		}
	}
	if overall == "" {
		return model.ConfidenceLow
	}
	return overall
}

func appendUnique(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		existing = append(existing, s)
		seen[s] = struct{}{}
	}
	return existing
}

func cloneItems(items []model.CumulativeItem) []model.CumulativeItem {
	out := make([]model.CumulativeItem, len(items))
	copy(out, items)
	return out
}

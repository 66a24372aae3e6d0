package state

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kijani-supplies/order-desk/internal/match"
	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/reconcile"
	"github.com/kijani-supplies/order-desk/internal/store"
)

// memStore is an in-memory Store covering the methods Commit touches.
type memStore struct {
	store.Store // unimplemented methods panic if reached

	mu        sync.Mutex
	states    map[string]*model.CumulativeState
	snapshots map[string][]model.Snapshot
}

func newMemStore() *memStore {
	return &memStore{
		states:    make(map[string]*model.CumulativeState),
		snapshots: make(map[string][]model.Snapshot),
	}
}

func (s *memStore) GetState(_ context.Context, conversationID string) (*model.CumulativeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *st
	cp.Items = append([]model.CumulativeItem(nil), st.Items...)
	cp.PendingClarifications = append([]string(nil), st.PendingClarifications...)
	return &cp, nil
}

func (s *memStore) SaveState(_ context.Context, st *model.CumulativeState, snap *model.Snapshot, priorVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := 0
	if existing, ok := s.states[st.ConversationID]; ok {
		current = existing.Version
	}
	if current != priorVersion {
		return store.ErrVersionConflict
	}
	cp := *st
	s.states[st.ConversationID] = &cp
	s.snapshots[st.ConversationID] = append(s.snapshots[st.ConversationID], *snap)
	return nil
}

func (s *memStore) ListSnapshots(_ context.Context, conversationID string) ([]model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Snapshot(nil), s.snapshots[conversationID]...), nil
}

func (s *memStore) LastSnapshot(_ context.Context, conversationID string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snapshots[conversationID]
	if len(snaps) == 0 {
		return nil, nil
	}
	last := snaps[len(snaps)-1]
	return &last, nil
}

func (s *memStore) HasSnapshotForMessage(_ context.Context, conversationID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snapshots[conversationID] {
		if snap.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func newManager() (*Manager, *memStore) {
	st := newMemStore()
	return NewManager(st, reconcile.New(match.New(0))), st
}

func highItem(name string, qty float64, unit string) model.ExtractedItem {
	return model.ExtractedItem{ProductName: name, Quantity: qty, Unit: unit, Confidence: model.ConfidenceHigh}
}

func TestCommit_FirstMessage(t *testing.T) {
	m, _ := newManager()
	res, err := m.Commit(context.Background(), "conv-1", &model.ExtractedOrder{
		CustomerName:      "Sarah",
		Items:             []model.ExtractedItem{highItem("rice", 50, "kg")},
		OverallConfidence: model.ConfidenceHigh,
	}, "msg-001")
	require.NoError(t, err)

	assert.Equal(t, 1, res.State.Version)
	assert.Equal(t, model.ConfidenceHigh, res.State.OverallConfidence)
	assert.False(t, res.State.RequiresClarification)
	assert.Len(t, res.Changes.Added, 1)
	assert.Equal(t, 1, res.Snapshot.Version)
	assert.Equal(t, "msg-001", res.Snapshot.MessageID)
}

func TestCommit_SecondMessageUpdates(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 50, "kg")},
	}, "msg-001")
	require.NoError(t, err)

	res, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 60, "kg")},
	}, "msg-002")
	require.NoError(t, err)

	assert.Equal(t, 2, res.State.Version)
	require.Len(t, res.Changes.Modified, 1)
	assert.Equal(t, 50.0, res.Changes.Modified[0].OldQuantity)
	assert.Equal(t, 60.0, res.Changes.Modified[0].NewQuantity)
	assert.Equal(t, 1, res.State.Items[0].ModificationCount)
}

func TestCommit_VersionMonotonic(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		res, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
			Items: []model.ExtractedItem{highItem("rice", float64(i), "kg")},
		}, fmt.Sprintf("msg-%03d", i))
		require.NoError(t, err)
		assert.Equal(t, i, res.State.Version)
	}
}

func TestCommit_LowItemDrivesOverallLow(t *testing.T) {
	m, _ := newManager()
	res, err := m.Commit(context.Background(), "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{
			highItem("rice", 50, "kg"),
			{ProductName: "soap", Quantity: 5, Unit: "boxes", Confidence: model.ConfidenceLow, Notes: "usual soap unclear"},
		},
		RequiresClarification: true,
		ClarificationNeeded:   []string{"which soap brand?"},
	}, "msg-001")
	require.NoError(t, err)

	assert.Equal(t, model.ConfidenceLow, res.State.OverallConfidence)
	assert.True(t, res.State.RequiresClarification)
	assert.Contains(t, res.State.PendingClarifications, "which soap brand?")
}

func TestCommit_ClarificationsAccumulateDeduplicated(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items:                 []model.ExtractedItem{highItem("rice", 50, "kg")},
		RequiresClarification: true,
		ClarificationNeeded:   []string{"which rice?"},
	}, "msg-001")
	require.NoError(t, err)

	res, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items:                 []model.ExtractedItem{highItem("sugar", 20, "kg")},
		RequiresClarification: true,
		ClarificationNeeded:   []string{"which rice?", "delivery where?"},
	}, "msg-002")
	require.NoError(t, err)

	assert.Equal(t, []string{"which rice?", "delivery where?"}, res.State.PendingClarifications)
}

func TestCommit_LastNonNullWinsScalars(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		CustomerName:          "Peter",
		CustomerOrganization:  "Governors Camp",
		RequestedDeliveryDate: "Friday",
		Items:                 []model.ExtractedItem{highItem("rice", 50, "kg")},
	}, "msg-001")
	require.NoError(t, err)

	// Second turn omits the organization: the stored value survives.
	res, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		CustomerName:          "Peter M.",
		RequestedDeliveryDate: "",
		Items:                 []model.ExtractedItem{highItem("sugar", 20, "kg")},
	}, "msg-002")
	require.NoError(t, err)

	assert.Equal(t, "Peter M.", res.State.CustomerName)
	assert.Equal(t, "Governors Camp", res.State.CustomerOrganization)
	assert.Equal(t, "Friday", res.State.DeliveryDate)
}

func TestCommit_DuplicateMessageRejected(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 50, "kg")},
	}, "msg-001")
	require.NoError(t, err)

	_, err = m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 99, "kg")},
	}, "msg-001")
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	// Prior version still authoritative.
	st, err := m.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)
	assert.Equal(t, 50.0, st.Items[0].Quantity)
}

func TestCommit_OutOfOrderRejected(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 50, "kg")},
	}, "msg-005")
	require.NoError(t, err)

	_, err = m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 10, "kg")},
	}, "msg-001")
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestCommit_MalformedExtractionRejected(t *testing.T) {
	m, _ := newManager()
	_, err := m.Commit(context.Background(), "conv-1", &model.ExtractedOrder{}, "msg-001")
	assert.ErrorIs(t, err, model.ErrMalformedExtraction)

	_, err = m.Commit(context.Background(), "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 1, "kg")},
	}, "")
	assert.ErrorIs(t, err, model.ErrMalformedExtraction)
}

func TestCommit_CancelledItemsDeactivate(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		Items: []model.ExtractedItem{highItem("rice", 50, "kg"), highItem("sugar", 20, "kg")},
	}, "msg-001")
	require.NoError(t, err)

	res, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
		CancelledItems: []string{"rice"},
	}, "msg-002")
	require.NoError(t, err)

	assert.Equal(t, []string{"rice"}, res.Cancelled)
	assert.Len(t, res.State.ActiveItems(), 1)
	assert.Equal(t, []string{"rice"}, res.Snapshot.CancelledItems)
	// Cancellations never enter the three change buckets.
	assert.Equal(t, 0, res.Changes.Touched())
}

func TestCommit_SnapshotTrail(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := m.Commit(ctx, "conv-1", &model.ExtractedOrder{
			Items: []model.ExtractedItem{highItem("rice", float64(10 * i), "kg")},
		}, fmt.Sprintf("msg-%03d", i))
		require.NoError(t, err)
	}
	snaps, err := m.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for i, snap := range snaps {
		assert.Equal(t, i+1, snap.Version)
	}
	// Past snapshots keep their items as of that version.
	assert.Equal(t, 10.0, snaps[0].Items[0].Quantity)
	assert.Equal(t, 30.0, snaps[2].Items[0].Quantity)
}

func TestCommit_ParallelConversations(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		convID := fmt.Sprintf("conv-%d", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 10; i++ {
				_, err := m.Commit(ctx, convID, &model.ExtractedOrder{
					Items: []model.ExtractedItem{highItem("rice", float64(i), "kg")},
				}, fmt.Sprintf("msg-%03d", i))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for c := 0; c < 8; c++ {
		st, err := m.Get(ctx, fmt.Sprintf("conv-%d", c))
		require.NoError(t, err)
		assert.Equal(t, 10, st.Version)
		assert.Equal(t, 10.0, st.Items[0].Quantity)
	}
}

func TestGet_UnknownConversation(t *testing.T) {
	m, _ := newManager()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOverallConfidence(t *testing.T) {
	items := []model.CumulativeItem{
		{Confidence: model.ConfidenceHigh, IsActive: true},
		{Confidence: model.ConfidenceMedium, IsActive: true},
		{Confidence: model.ConfidenceLow, IsActive: false}, // inactive ignored
	}
	assert.Equal(t, model.ConfidenceMedium, OverallConfidence(items))
	assert.Equal(t, model.ConfidenceLow, OverallConfidence(nil))
}

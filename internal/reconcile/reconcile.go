// Package reconcile merges one turn's extracted items into a conversation's
// cumulative item list.
package reconcile

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/match"
	"github.com/kijani-supplies/order-desk/internal/model"
)

// quantityEpsilon bounds float comparison when deciding whether a quantity
// actually changed.
const quantityEpsilon = 1e-9

// Reconciler matches incoming items against the running list and applies
// add/modify/keep rules. It never deactivates: absence from a message is
// not a removal signal.
type Reconciler struct {
	matcher *match.Matcher
}

// New creates a Reconciler around the given matcher.
func New(matcher *match.Matcher) *Reconciler {
	return &Reconciler{matcher: matcher}
}

// turn buckets for items touched by the current reconciliation.
type bucket int

const (
	bucketAdded bucket = iota
	bucketModified
	bucketUnchanged
)

type mark struct {
	bucket bucket
	pos    int
}

// Reconcile merges incoming into existing, in input order, and returns the
// updated item list plus the change record for the turn. Matching runs
// against the list as mutated so far within this call, so two incoming
// items that collapse to one key resolve last-write-wins and report a
// single change. Existing items the turn never mentions are left untouched
// and stay active.
func (r *Reconciler) Reconcile(existing []model.CumulativeItem, incoming []model.ExtractedItem, messageID string) ([]model.CumulativeItem, model.ChangeRecord) {
	updated := make([]model.CumulativeItem, len(existing))
	copy(updated, existing)

	// Candidate order expresses recency bias: most recently touched first.
	// Items append in arrival order, so the initial order is simply the
	// reverse of the active list.
	recency := make([]int, 0, len(updated))
	for i := len(updated) - 1; i >= 0; i-- {
		if updated[i].IsActive {
			recency = append(recency, i)
		}
	}

	var rec model.ChangeRecord
	marks := make(map[int]mark)

	for _, in := range incoming {
		key := match.Normalize(in.ProductName)
		if key == "" {
			// Unidentifiable name: always a new item, never merged.
			idx := appendNew(&updated, in, key, messageID)
			rec.Added = append(rec.Added, updated[idx])
			marks[idx] = mark{bucketAdded, len(rec.Added) - 1}
			recency = promote(recency, idx)
			continue
		}

		candidates := make([]match.Candidate, len(recency))
		for i, idx := range recency {
			candidates[i] = match.Candidate{Key: updated[idx].NormalizedName, Display: updated[idx].ProductName}
		}

		res, ok := r.matcher.Match(in.ProductName, candidates)
		if !ok {
			idx := appendNew(&updated, in, key, messageID)
			rec.Added = append(rec.Added, updated[idx])
			marks[idx] = mark{bucketAdded, len(rec.Added) - 1}
			recency = promote(recency, idx)
			continue
		}

		idx := recency[res.Index]
		item := &updated[idx]
		recency = promote(recency, idx)

		if sameQuantity(item.Quantity, in.Quantity) && sameUnit(item.Unit, in.Unit) {
			// No-op turn for this item: never degrade confidence.
			item.Confidence = model.MaxConfidence(item.Confidence, in.Confidence)
			if _, touched := marks[idx]; !touched {
				rec.Unchanged = append(rec.Unchanged, model.ItemSummary{
					ProductName: item.ProductName,
					Quantity:    item.Quantity,
					Unit:        item.Unit,
				})
				marks[idx] = mark{bucketUnchanged, len(rec.Unchanged) - 1}
			}
			continue
		}

		oldQty, oldUnit := item.Quantity, item.Unit
		item.Quantity = in.Quantity
		item.Unit = in.Unit
		item.Confidence = in.Confidence
		item.ProductName = in.ProductName
		item.LastModifiedMessage = messageID
		if in.Notes != "" {
			item.Notes = in.Notes
		}

		m, touched := marks[idx]
		switch {
		case touched && m.bucket == bucketAdded:
			// Re-specified within the same turn it was created: the add
			// record absorbs the new values, modification count stays 0.
			rec.Added[m.pos] = *item
		case touched && m.bucket == bucketModified:
			item.ModificationCount++
			rec.Modified[m.pos].NewQuantity = item.Quantity
			rec.Modified[m.pos].NewUnit = item.Unit
		case touched && m.bucket == bucketUnchanged:
			item.ModificationCount++
			rec.Unchanged = append(rec.Unchanged[:m.pos], rec.Unchanged[m.pos+1:]...)
			for k, v := range marks {
				if v.bucket == bucketUnchanged && v.pos > m.pos {
					marks[k] = mark{bucketUnchanged, v.pos - 1}
				}
			}
			rec.Modified = append(rec.Modified, model.ItemChange{
				ProductName: item.ProductName,
				OldQuantity: oldQty,
				NewQuantity: item.Quantity,
				OldUnit:     oldUnit,
				NewUnit:     item.Unit,
			})
			marks[idx] = mark{bucketModified, len(rec.Modified) - 1}
		default:
			item.ModificationCount++
			rec.Modified = append(rec.Modified, model.ItemChange{
				ProductName: item.ProductName,
				OldQuantity: oldQty,
				NewQuantity: item.Quantity,
				OldUnit:     oldUnit,
				NewUnit:     item.Unit,
			})
			marks[idx] = mark{bucketModified, len(rec.Modified) - 1}
		}

		zap.L().Debug("reconcile: matched item",
			zap.String("product", in.ProductName),
			zap.String("tier", res.Tier.String()),
			zap.Float64("score", res.Score),
		)
	}

	return updated, rec
}

// Cancel deactivates items matched by explicit removal names. Unmatched
// names are returned so the caller can surface them for clarification.
func (r *Reconciler) Cancel(items []model.CumulativeItem, names []string, messageID string) ([]model.CumulativeItem, []string, []string) {
	updated := make([]model.CumulativeItem, len(items))
	copy(updated, items)

	var cancelled, unmatched []string
	for _, name := range names {
		candidates := make([]match.Candidate, 0, len(updated))
		indexes := make([]int, 0, len(updated))
		for i := len(updated) - 1; i >= 0; i-- {
			if updated[i].IsActive {
				candidates = append(candidates, match.Candidate{Key: updated[i].NormalizedName, Display: updated[i].ProductName})
				indexes = append(indexes, i)
			}
		}
		res, ok := r.matcher.Match(name, candidates)
		if !ok {
			unmatched = append(unmatched, name)
			continue
		}
		idx := indexes[res.Index]
		updated[idx].IsActive = false
		updated[idx].LastModifiedMessage = messageID
		cancelled = append(cancelled, updated[idx].ProductName)
	}
	return updated, cancelled, unmatched
}

func appendNew(items *[]model.CumulativeItem, in model.ExtractedItem, key, messageID string) int {
	*items = append(*items, model.CumulativeItem{
		NormalizedName:        key,
		ProductName:           in.ProductName,
		Quantity:              in.Quantity,
		Unit:                  in.Unit,
		Confidence:            in.Confidence,
		Notes:                 in.Notes,
		IsActive:              true,
		ModificationCount:     0,
		FirstMentionedMessage: messageID,
		LastModifiedMessage:   messageID,
	})
	return len(*items) - 1
}

// promote moves idx to the front of the recency order, inserting it if absent.
func promote(recency []int, idx int) []int {
	out := make([]int, 0, len(recency)+1)
	out = append(out, idx)
	for _, i := range recency {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}

func sameQuantity(a, b float64) bool {
	return math.Abs(a-b) <= quantityEpsilon
}

func sameUnit(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

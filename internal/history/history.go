// Package history builds order-history context so the extractor can resolve
// references like "the usual" or "same as last time".
package history

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/store"
)

// FrequentItem is an aggregated view of how often a product is ordered.
type FrequentItem struct {
	ProductName     string
	TypicalQuantity float64
	Unit            string
	OrderCount      int
}

// Builder assembles prompt context from past orders.
type Builder struct {
	store store.Store
}

// NewBuilder creates a Builder over the given store.
func NewBuilder(s store.Store) *Builder {
	return &Builder{store: s}
}

// Context returns the formatted history section for the extraction prompt,
// or "" when the customer has no history.
func (b *Builder) Context(ctx context.Context, customerName, organization string) (string, error) {
	if customerName == "" && organization == "" {
		return "", nil
	}

	orders, err := b.store.RecentOrders(ctx, customerName, organization, 5)
	if err != nil {
		return "", eris.Wrap(err, "history: recent orders")
	}
	if len(orders) == 0 {
		return "", nil
	}

	return Format(orders, FrequentItems(orders, 7)), nil
}

// FrequentItems aggregates item frequencies and typical quantities across
// orders, most frequent first.
func FrequentItems(orders []model.Order, limit int) []FrequentItem {
	type stats struct {
		name       string
		unit       string
		count      int
		totalQty   float64
		firstIndex int
	}
	byName := make(map[string]*stats)
	order := 0
	for _, o := range orders {
		for _, item := range o.Items {
			key := strings.ToLower(item.ProductName)
			st, ok := byName[key]
			if !ok {
				st = &stats{name: item.ProductName, unit: item.Unit, firstIndex: order}
				byName[key] = st
				order++
			}
			st.count++
			st.totalQty += item.Quantity
		}
	}

	all := make([]*stats, 0, len(byName))
	for _, st := range byName {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].firstIndex < all[j].firstIndex
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]FrequentItem, len(all))
	for i, st := range all {
		out[i] = FrequentItem{
			ProductName:     st.name,
			TypicalQuantity: math.Round(st.totalQty/float64(st.count)*10) / 10,
			Unit:            st.unit,
			OrderCount:      st.count,
		}
	}
	return out
}

// Format renders the history block in the shape the extraction prompt
// expects. Empty inputs produce "".
func Format(orders []model.Order, frequent []FrequentItem) string {
	if len(orders) == 0 && len(frequent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("CUSTOMER ORDER HISTORY:")

	if len(orders) > 0 {
		b.WriteString("\n\nRecent Orders:")
		for i, o := range orders {
			if i >= 5 {
				break
			}
			parts := make([]string, 0, 5)
			for _, item := range o.Items {
				if len(parts) == 5 {
					break
				}
				parts = append(parts, fmt.Sprintf("%s %s %s", formatQty(item.Quantity), item.Unit, item.ProductName))
			}
			line := strings.Join(parts, ", ")
			if extra := len(o.Items) - len(parts); extra > 0 {
				line += fmt.Sprintf(" (+%d more)", extra)
			}
			fmt.Fprintf(&b, "\n  %d. %s: %s", i+1, o.CreatedAt.Format("2006-01-02"), line)
		}
	}

	if len(frequent) > 0 {
		b.WriteString("\n\nFrequently Ordered Items ('the usual' likely refers to these):")
		for _, item := range frequent {
			fmt.Fprintf(&b, "\n  - %s: typically %s %s (ordered %d times)",
				item.ProductName, formatQty(item.TypicalQuantity), item.Unit, item.OrderCount)
		}
	}

	b.WriteString("\n\nWhen the customer says 'the usual', 'same as last time', or similar, " +
		"use this history to resolve the reference and increase confidence accordingly.")
	return b.String()
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

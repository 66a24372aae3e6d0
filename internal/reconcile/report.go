package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kijani-supplies/order-desk/internal/model"
)

// Summary is a presentation-ready view of one turn's changes plus the
// resulting order. It is a pure projection: building it never mutates the
// change record or the state, so any number of callers may format the same
// commit concurrently.
type Summary struct {
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Unchanged []string `json:"unchanged"`
	Order     []string `json:"order"`
}

// FormatChanges renders a change record and the committed state into
// display strings.
func FormatChanges(rec model.ChangeRecord, state *model.CumulativeState) Summary {
	s := Summary{}
	for _, item := range rec.Added {
		s.Added = append(s.Added, fmt.Sprintf("%s: %s %s (new)", item.ProductName, formatQty(item.Quantity), item.Unit))
	}
	for _, ch := range rec.Modified {
		line := fmt.Sprintf("%s: %s %s → %s %s", ch.ProductName,
			formatQty(ch.OldQuantity), ch.OldUnit, formatQty(ch.NewQuantity), ch.NewUnit)
		s.Modified = append(s.Modified, line)
	}
	for _, item := range rec.Unchanged {
		s.Unchanged = append(s.Unchanged, fmt.Sprintf("%s: %s %s", item.ProductName, formatQty(item.Quantity), item.Unit))
	}
	if state != nil {
		for _, item := range state.ActiveItems() {
			s.Order = append(s.Order, fmt.Sprintf("%s: %s %s", item.ProductName, formatQty(item.Quantity), item.Unit))
		}
	}
	return s
}

// Lines flattens the summary for logs and plain-text replies.
func (s Summary) Lines() []string {
	var out []string
	for _, l := range s.Added {
		out = append(out, "+ "+l)
	}
	for _, l := range s.Modified {
		out = append(out, "~ "+l)
	}
	for _, l := range s.Unchanged {
		out = append(out, "= "+l)
	}
	return out
}

func (s Summary) String() string {
	return strings.Join(s.Lines(), "\n")
}

// formatQty trims trailing zeros so "50" prints instead of "50.000000".
func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

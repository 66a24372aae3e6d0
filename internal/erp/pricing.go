package erp

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kijani-supplies/order-desk/internal/config"
	"github.com/kijani-supplies/order-desk/internal/model"
)

// PricedItem is an order line with tier pricing applied.
type PricedItem struct {
	ProductName     string  `json:"product_name"`
	Quantity        float64 `json:"quantity"`
	Unit            string  `json:"unit"`
	BasePrice       float64 `json:"base_price"`
	DiscountPct     float64 `json:"discount_pct"`
	DiscountedPrice float64 `json:"discounted_price"`
	LineTotal       float64 `json:"line_total"`
}

// PricedOrder is a complete pricing breakdown for one order.
type PricedOrder struct {
	CustomerName   string             `json:"customer_name"`
	Tier           model.CustomerTier `json:"tier"`
	Items          []PricedItem       `json:"items"`
	Subtotal       float64            `json:"subtotal"`
	DiscountAmount float64            `json:"discount_amount"`
	DeliveryFee    float64            `json:"delivery_fee"`
	Total          float64            `json:"total"`
	Currency       string             `json:"currency"`
}

// Pricer applies tier discounts and delivery fee rules.
type Pricer struct {
	cfg config.PricingConfig
}

// NewPricer creates a Pricer from config.
func NewPricer(cfg config.PricingConfig) *Pricer {
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	return &Pricer{cfg: cfg}
}

// DiscountPct returns the percentage discount for a tier.
func (p *Pricer) DiscountPct(tier model.CustomerTier) float64 {
	switch tier {
	case model.TierPremium:
		return p.cfg.PremiumDiscountPct
	case model.TierVIP:
		return p.cfg.VIPDiscountPct
	}
	return 0
}

// DeliveryFee returns the delivery fee for a discounted subtotal. VIP
// customers always ship free; other tiers ship free above their threshold.
func (p *Pricer) DeliveryFee(subtotal float64, tier model.CustomerTier) float64 {
	switch tier {
	case model.TierVIP:
		return 0
	case model.TierPremium:
		if subtotal >= p.cfg.FreeDeliveryPremium {
			return 0
		}
	default:
		if subtotal >= p.cfg.FreeDeliveryStandard {
			return 0
		}
	}
	return p.cfg.DeliveryFee
}

// Price applies tier pricing to the active items of a committed state.
// basePrices maps lowercased product names to unit prices; unknown products
// price at zero and surface in the breakdown for review.
func (p *Pricer) Price(state *model.CumulativeState, tier model.CustomerTier, basePrices map[string]float64) PricedOrder {
	pct := p.DiscountPct(tier)

	var items []PricedItem
	subtotal := 0.0
	for _, item := range state.ActiveItems() {
		base := basePrices[strings.ToLower(item.ProductName)]
		discounted := base * (1 - pct/100)
		line := PricedItem{
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			Unit:            item.Unit,
			BasePrice:       base,
			DiscountPct:     pct,
			DiscountedPrice: discounted,
			LineTotal:       base * item.Quantity,
		}
		items = append(items, line)
		subtotal += line.LineTotal
	}

	discount := subtotal * pct / 100
	discounted := subtotal - discount
	fee := p.DeliveryFee(discounted, tier)

	customer := state.CustomerOrganization
	if customer == "" {
		customer = state.CustomerName
	}

	return PricedOrder{
		CustomerName:   customer,
		Tier:           tier,
		Items:          items,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		DeliveryFee:    fee,
		Total:          discounted + fee,
		Currency:       p.cfg.Currency,
	}
}

var pricePrinter = message.NewPrinter(language.English)

// FormatPrice renders an amount with thousands separators, e.g. "KES 12,500.00".
func FormatPrice(amount float64, currency string) string {
	return pricePrinter.Sprintf("%s %.2f", currency, amount)
}

// Summary renders a priced order for display.
func (o PricedOrder) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s (%s)\n\nItems:\n", o.CustomerName, strings.ToUpper(string(o.Tier)))

	for _, item := range o.Items {
		base := FormatPrice(item.BasePrice, o.Currency)
		if item.DiscountPct > 0 {
			fmt.Fprintf(&b, "  %v %s %s: %s -> %s (-%.0f%%)\n",
				item.Quantity, item.Unit, item.ProductName,
				base, FormatPrice(item.DiscountedPrice, o.Currency), item.DiscountPct)
		} else {
			fmt.Fprintf(&b, "  %v %s %s: %s\n", item.Quantity, item.Unit, item.ProductName, base)
		}
	}

	fmt.Fprintf(&b, "\nSubtotal: %s\n", FormatPrice(o.Subtotal, o.Currency))
	if o.DiscountAmount > 0 {
		fmt.Fprintf(&b, "Discount (%s): -%s\n", o.Tier, FormatPrice(o.DiscountAmount, o.Currency))
	}
	if o.DeliveryFee > 0 {
		fmt.Fprintf(&b, "Delivery: %s\n", FormatPrice(o.DeliveryFee, o.Currency))
	} else {
		b.WriteString("Delivery: FREE\n")
	}
	fmt.Fprintf(&b, "Total: %s", FormatPrice(o.Total, o.Currency))
	return b.String()
}

// Package confirm renders customer-facing confirmation messages, either
// from templates (no API cost) or via Claude for a natural-language variant.
package confirm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/pkg/anthropic"
)

const systemPrompt = `You are a friendly customer service assistant for Kijani Supplies, a B2B distributor serving lodges and hotels in East Africa.

Generate WhatsApp confirmation messages that are:
- Warm but professional
- Concise (customers are busy)
- Clear about what was ordered
- Explicit about delivery date
- Include any clarification requests naturally

Format guidelines:
- Use simple formatting (WhatsApp supports *bold* and _italic_)
- Keep messages under 500 characters when possible
- List items clearly
- End with a way to make changes or ask questions

LANGUAGE: You MUST respond in the same language the customer used.
- If the customer wrote in Swahili, respond in Swahili
- If the customer wrote in English, respond in English
- If the customer used mixed languages, respond in the dominant language

Common Swahili phrases for confirmations:
- "Asante sana" = Thank you very much
- "Oda yako" = Your order
- "Tutawasilisha" = We will deliver
- "Tafadhali jibu" = Please reply
- "Swali" = Question

If clarification is needed:
- Politely ask for the specific missing information
- Suggest options when possible
- Don't make assumptions about vague items`

// Config carries model settings for LLM-generated confirmations.
type Config struct {
	Model     string
	MaxTokens int64
}

// Generator produces confirmation messages.
type Generator struct {
	client anthropic.Client
	cfg    Config
}

// NewGenerator builds a Generator. The client may be nil if only template
// confirmations are used.
func NewGenerator(client anthropic.Client, cfg Config) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Generator{client: client, cfg: cfg}
}

// Generate asks Claude for a natural confirmation of the running order.
func (g *Generator) Generate(ctx context.Context, state *model.CumulativeState, lang model.Language) (string, error) {
	if g.client == nil {
		return "", eris.New("confirm: no client configured")
	}

	var items strings.Builder
	for _, item := range state.ActiveItems() {
		fmt.Fprintf(&items, "- %s: %s %s", item.ProductName, formatQty(item.Quantity), item.Unit)
		if item.Confidence == model.ConfidenceLow && item.Notes != "" {
			fmt.Fprintf(&items, " (needs clarification: %s)", item.Notes)
		}
		items.WriteString("\n")
	}

	clarifications := "None"
	if len(state.PendingClarifications) > 0 {
		clarifications = strings.Join(state.PendingClarifications, ", ")
	}

	delivery := state.DeliveryDate
	if delivery == "" {
		delivery = "Not specified"
	}
	if state.Urgency != "" {
		delivery += " (" + state.Urgency + ")"
	}

	org := state.CustomerOrganization
	if org == "" {
		org = "Not specified"
	}

	prompt := fmt.Sprintf(`Generate a WhatsApp confirmation message for this order:

Customer: %s
Organization: %s
Delivery: %s

Items:
%s
Needs clarification: %t
Clarification items: %s

IMPORTANT: The customer's message was in %s. You MUST respond in %s.

Generate a confirmation message. If clarification is needed, ask for it naturally in the message.`,
		state.CustomerName, org, delivery, items.String(),
		state.RequiresClarification, clarifications,
		strings.ToUpper(string(lang)), strings.ToUpper(string(lang)))

	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.cfg.Model,
		MaxTokens: g.cfg.MaxTokens,
		System:    systemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", eris.Wrap(err, "confirm: create message")
	}
	resp.Usage.LogCost(g.cfg.Model, "confirmation")
	return resp.FirstText(), nil
}

// Simple renders a template confirmation of the running order without an
// API call. Swahili templates are used when the conversation is in Swahili.
func Simple(state *model.CumulativeState, lang model.Language) string {
	customer := state.CustomerOrganization
	if customer == "" {
		customer = state.CustomerName
	}

	var items strings.Builder
	for _, item := range state.ActiveItems() {
		fmt.Fprintf(&items, "  - %s: %s %s\n", item.ProductName, formatQty(item.Quantity), item.Unit)
	}
	itemList := strings.TrimRight(items.String(), "\n")

	if lang == model.LanguageSwahili {
		return swahiliTemplate(state, customer, itemList)
	}
	return englishTemplate(state, customer, itemList)
}

func englishTemplate(state *model.CumulativeState, customer, itemList string) string {
	delivery := state.DeliveryDate
	if delivery == "" {
		delivery = "to be confirmed"
	}

	msg := fmt.Sprintf(`Hi %s!

Thank you for your order from *%s*.

*Order Summary:*
%s

*Delivery:* %s

We'll confirm availability and get back to you shortly. Reply to this message if you need to make any changes.

- Kijani Supplies Team`, state.CustomerName, customer, itemList, delivery)

	if state.RequiresClarification && len(state.PendingClarifications) > 0 {
		msg += fmt.Sprintf(`

*Quick question:*
We need a bit more info on:
%s

Please reply with details so we can complete your order.`, bulleted(state.PendingClarifications))
	}
	return msg
}

func swahiliTemplate(state *model.CumulativeState, customer, itemList string) string {
	delivery := state.DeliveryDate
	if delivery == "" {
		delivery = "itahibitishwa"
	}

	msg := fmt.Sprintf(`Habari %s!

Asante sana kwa oda yako kutoka *%s*.

*Muhtasari wa Oda:*
%s

*Uwasilishaji:* %s

Tutahibitisha upatikanaji na kuwasiliana nawe hivi karibuni. Jibu ujumbe huu ikiwa unahitaji kufanya mabadiliko yoyote.

- Timu ya Kijani Supplies`, state.CustomerName, customer, itemList, delivery)

	if state.RequiresClarification && len(state.PendingClarifications) > 0 {
		msg += fmt.Sprintf(`

*Swali:*
Tunahitaji maelezo zaidi kuhusu:
%s

Tafadhali jibu na maelezo ili tukamilishe oda yako.`, bulleted(state.PendingClarifications))
	}
	return msg
}

func bulleted(lines []string) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = "  - " + l
	}
	return strings.Join(out, "\n")
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

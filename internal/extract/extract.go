// Package extract turns raw customer messages into structured orders via
// Claude, with a system prompt tuned for East African B2B ordering patterns.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/resilience"
	"github.com/kijani-supplies/order-desk/pkg/anthropic"
)

// Extractor produces a structured order from one message.
type Extractor interface {
	Extract(ctx context.Context, message, historyContext string) (*model.ExtractedOrder, error)
}

const systemPrompt = `You are an order extraction assistant for Kijani Supplies, a B2B distributor serving lodges and hotels in East Africa.

Your task is to extract structured order information from WhatsApp messages. These messages may be:
- Clearly written orders with specific quantities
- Informal messages with vague quantities ("some", "a few", "the usual")
- Voice note transcriptions with filler words and unclear speech
- Messages referencing past orders ("the same as last time")

EXTRACTION RULES:

1. CUSTOMER IDENTIFICATION:
   - Extract both contact person name AND organization name if available
   - The organization (lodge/hotel name) is the primary customer identifier
   - Common patterns: "from [Organization]", "Order for [Organization]", "- [Organization]"
   - IMPORTANT: If no personal name is given, use the organization name as customer_name
   - customer_name must NEVER be null - always provide a value

2. ITEMS:
   - Extract product name, quantity, and unit
   - Standardize units: kg, L (liters), pieces, boxes, rolls, bottles
   - For eggs, default unit is "pieces" unless "trays" specified (1 tray = 30 eggs)
   - If quantity is vague ("some", "a few"), estimate conservatively and mark LOW confidence

3. CANCELLATIONS:
   - If the customer explicitly removes something ("cancel the rice", "forget the sugar",
     "ondoa mchele"), list the product name in cancelled_items
   - Only explicit removals count; never treat omission as cancellation

4. DELIVERY DATE:
   - Parse relative dates: "Friday", "tomorrow", "day after tomorrow", "Tuesday"
   - Note urgency indicators: "latest", "ASAP", "urgent"
   - If no date specified, leave as null

5. CONFIDENCE SCORING:
   - HIGH: Clear quantity, unambiguous product name, explicit details
   - MEDIUM: Minor ambiguity (e.g., "probably 30", brand not specified)
   - LOW: Vague quantity, unclear product reference, transcription issues

6. AMBIGUOUS REFERENCES:
   - "the usual", "same as last time", "that thing" → Mark as LOW confidence, note in clarification_needed
   - Unknown product names → Include as-is, mark MEDIUM confidence
   - Brand preferences mentioned → Include in notes

7. LANGUAGE SUPPORT:
   - Messages may be in English, Swahili, or mixed (code-switching)
   - Extract data regardless of language
   - Common Swahili terms:
     * "tunahitaji" = "we need"
     * "tafadhali" = "please"
     * "kesho" = "tomorrow"
     * "asubuhi" = "morning"
     * "mchele" = "rice"
     * "sukari" = "sugar"
     * "mafuta" = "oil"
     * "mayai" = "eggs"
     * "maziwa" = "milk"
     * "mkate" = "bread"
   - Detect the primary language used and include it in your response
   - Generate any clarification questions in the same language as the input

8. OVERALL CONFIDENCE:
   - HIGH: All items HIGH confidence, customer clearly identified
   - MEDIUM: Some items MEDIUM confidence, or minor clarifications needed
   - LOW: Any item LOW confidence, or critical info missing

Always set requires_clarification=true if ANY item needs follow-up.`

const responseSchema = `Return a JSON object with this exact structure:
{
    "customer_name": "string - contact person name (REQUIRED - use organization name if no person named)",
    "customer_organization": "string or null - lodge/hotel name",
    "items": [
        {
            "product_name": "string",
            "quantity": number,
            "unit": "string",
            "confidence": "high" | "medium" | "low",
            "original_text": "string - the part of message this came from",
            "notes": "string or null - any ambiguity"
        }
    ],
    "cancelled_items": ["string"] - product names the customer explicitly removed,
    "requested_delivery_date": "string or null",
    "delivery_urgency": "string or null",
    "overall_confidence": "high" | "medium" | "low",
    "requires_clarification": boolean,
    "clarification_needed": ["string"] - list of things needing follow-up,
    "detected_language": "english" | "swahili" | "mixed" - primary language detected
}`

// Config carries the model settings for the Claude extractor.
type Config struct {
	Model     string
	MaxTokens int64
}

// ClaudeExtractor implements Extractor against the Anthropic API.
type ClaudeExtractor struct {
	client anthropic.Client
	cfg    Config
	retry  resilience.Policy
}

// NewClaudeExtractor builds an extractor using the given client.
func NewClaudeExtractor(client anthropic.Client, cfg Config) *ClaudeExtractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	return &ClaudeExtractor{client: client, cfg: cfg}
}

// Extract sends the message (plus optional order-history context) to Claude
// and parses the structured response. The extraction is validated before it
// is returned; a response with nothing to act on fails with
// model.ErrMalformedExtraction.
func (e *ClaudeExtractor) Extract(ctx context.Context, message, historyContext string) (*model.ExtractedOrder, error) {
	resp, err := resilience.RetryVal(ctx, "anthropic", e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.MaxTokens,
			System:    systemPrompt,
			Messages: []anthropic.Message{
				{Role: "user", Content: buildPrompt(message, historyContext)},
			},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}
	resp.Usage.LogCost(e.cfg.Model, "extraction")

	order, err := parseResponse(resp.FirstText())
	if err != nil {
		return nil, err
	}
	order.RawMessage = message

	if err := order.Validate(); err != nil {
		return nil, err
	}

	zap.L().Debug("extracted order",
		zap.String("customer", order.CustomerName),
		zap.Int("items", len(order.Items)),
		zap.Int("cancelled", len(order.CancelledItems)),
		zap.String("confidence", string(order.OverallConfidence)))
	return order, nil
}

func buildPrompt(message, historyContext string) string {
	var b strings.Builder
	if historyContext != "" {
		b.WriteString(historyContext)
		b.WriteString("\n\n")
	}
	b.WriteString("Extract the order information from this WhatsApp message:\n\n<message>\n")
	b.WriteString(message)
	b.WriteString("\n</message>\n\n")
	b.WriteString(responseSchema)
	return b.String()
}

// parseResponse decodes the model output, tolerating markdown code fences.
func parseResponse(text string) (*model.ExtractedOrder, error) {
	jsonStr := stripFence(text)

	var order model.ExtractedOrder
	if err := json.Unmarshal([]byte(jsonStr), &order); err != nil {
		return nil, eris.Wrap(model.ErrMalformedExtraction, err.Error())
	}

	if order.CustomerName == "" {
		if order.CustomerOrganization != "" {
			order.CustomerName = order.CustomerOrganization
		} else {
			order.CustomerName = "Unknown Customer"
		}
	}
	if order.DetectedLanguage == "" {
		order.DetectedLanguage = model.LanguageEnglish
	}
	return &order, nil
}

func stripFence(text string) string {
	if i := strings.Index(text, "```json"); i >= 0 {
		rest := text[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(text)
}

package extract

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/pkg/anthropic"
)

// fakeClient returns canned responses and records requests.
type fakeClient struct {
	resp *anthropic.MessageResponse
	err  error
	last anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	return f.resp, f.err
}

func textResponse(body string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: body}},
	}
}

const sampleJSON = `{
	"customer_name": "James",
	"customer_organization": "Mara Safari Lodge",
	"items": [
		{"product_name": "rice", "quantity": 50, "unit": "kg", "confidence": "high", "original_text": "50kg rice"},
		{"product_name": "cooking oil", "quantity": 20, "unit": "L", "confidence": "medium", "original_text": "some oil", "notes": "brand not specified"}
	],
	"cancelled_items": [],
	"requested_delivery_date": "Friday",
	"overall_confidence": "medium",
	"requires_clarification": false,
	"detected_language": "english"
}`

func TestExtract_ParsesPlainJSON(t *testing.T) {
	client := &fakeClient{resp: textResponse(sampleJSON)}
	ex := NewClaudeExtractor(client, Config{Model: "claude-sonnet-4-5-20250929"})

	order, err := ex.Extract(context.Background(), "50kg rice and some oil for Friday - Mara Safari Lodge", "")
	require.NoError(t, err)

	assert.Equal(t, "James", order.CustomerName)
	assert.Equal(t, "Mara Safari Lodge", order.CustomerOrganization)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "rice", order.Items[0].ProductName)
	assert.Equal(t, model.ConfidenceHigh, order.Items[0].Confidence)
	assert.Equal(t, "Friday", order.RequestedDeliveryDate)
	assert.Equal(t, model.LanguageEnglish, order.DetectedLanguage)
	assert.Contains(t, order.RawMessage, "Mara Safari Lodge")
}

func TestExtract_StripsMarkdownFence(t *testing.T) {
	client := &fakeClient{resp: textResponse("Here is the order:\n```json\n" + sampleJSON + "\n```\n")}
	ex := NewClaudeExtractor(client, Config{Model: "claude-sonnet-4-5-20250929"})

	order, err := ex.Extract(context.Background(), "50kg rice", "")
	require.NoError(t, err)
	assert.Len(t, order.Items, 2)
}

func TestExtract_CustomerNameFallsBackToOrganization(t *testing.T) {
	body := `{
		"customer_name": "",
		"customer_organization": "Kilima Hotel",
		"items": [{"product_name": "sugar", "quantity": 10, "unit": "kg", "confidence": "high"}],
		"overall_confidence": "high",
		"requires_clarification": false
	}`
	client := &fakeClient{resp: textResponse(body)}
	ex := NewClaudeExtractor(client, Config{})

	order, err := ex.Extract(context.Background(), "10kg sugar - Kilima Hotel", "")
	require.NoError(t, err)
	assert.Equal(t, "Kilima Hotel", order.CustomerName)
}

func TestExtract_InvalidJSONIsMalformed(t *testing.T) {
	client := &fakeClient{resp: textResponse("sorry, I could not parse that")}
	ex := NewClaudeExtractor(client, Config{})

	_, err := ex.Extract(context.Background(), "hello", "")
	assert.ErrorIs(t, err, model.ErrMalformedExtraction)
}

func TestExtract_EmptyExtractionRejected(t *testing.T) {
	body := `{
		"customer_name": "James",
		"items": [],
		"overall_confidence": "low",
		"requires_clarification": false
	}`
	client := &fakeClient{resp: textResponse(body)}
	ex := NewClaudeExtractor(client, Config{})

	_, err := ex.Extract(context.Background(), "thanks!", "")
	assert.ErrorIs(t, err, model.ErrMalformedExtraction)
}

func TestExtract_HistoryContextPrepended(t *testing.T) {
	client := &fakeClient{resp: textResponse(sampleJSON)}
	ex := NewClaudeExtractor(client, Config{})

	_, err := ex.Extract(context.Background(), "the usual please", "CUSTOMER ORDER HISTORY:\n- 50kg rice weekly")
	require.NoError(t, err)

	prompt := client.last.Messages[0].Content
	assert.Contains(t, prompt, "CUSTOMER ORDER HISTORY")
	assert.Contains(t, prompt, "the usual please")
	// History comes before the message it contextualizes.
	assert.Less(t,
		strings.Index(prompt, "CUSTOMER ORDER HISTORY"),
		strings.Index(prompt, "<message>"))
}

func TestExtract_APIErrorWrapped(t *testing.T) {
	client := &fakeClient{err: eris.New("api unavailable")}
	ex := NewClaudeExtractor(client, Config{})

	_, err := ex.Extract(context.Background(), "50kg rice", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract: create message")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(`{"a":1}`))
}

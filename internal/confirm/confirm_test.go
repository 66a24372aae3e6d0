package confirm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/pkg/anthropic"
)

func sampleState() *model.CumulativeState {
	return &model.CumulativeState{
		ConversationID:       "conv-1",
		CustomerName:         "James",
		CustomerOrganization: "Mara Safari Lodge",
		DeliveryDate:         "Friday",
		Items: []model.CumulativeItem{
			{NormalizedName: "rice", ProductName: "rice", Quantity: 50, Unit: "kg", Confidence: model.ConfidenceHigh, IsActive: true},
			{NormalizedName: "cooking oil", ProductName: "cooking oil", Quantity: 20, Unit: "L", Confidence: model.ConfidenceMedium, IsActive: true},
			{NormalizedName: "sugar", ProductName: "sugar", Quantity: 10, Unit: "kg", IsActive: false},
		},
		Version: 3,
	}
}

func TestSimple_English(t *testing.T) {
	msg := Simple(sampleState(), model.LanguageEnglish)

	assert.Contains(t, msg, "Hi James!")
	assert.Contains(t, msg, "*Mara Safari Lodge*")
	assert.Contains(t, msg, "rice: 50 kg")
	assert.Contains(t, msg, "cooking oil: 20 L")
	assert.Contains(t, msg, "*Delivery:* Friday")
	assert.Contains(t, msg, "Kijani Supplies Team")
	// Cancelled items never appear.
	assert.NotContains(t, msg, "sugar")
	assert.NotContains(t, msg, "Quick question")
}

func TestSimple_EnglishWithClarifications(t *testing.T) {
	state := sampleState()
	state.RequiresClarification = true
	state.PendingClarifications = []string{"Which brand of cooking oil?"}

	msg := Simple(state, model.LanguageEnglish)
	assert.Contains(t, msg, "*Quick question:*")
	assert.Contains(t, msg, "  - Which brand of cooking oil?")
}

func TestSimple_Swahili(t *testing.T) {
	state := sampleState()
	state.RequiresClarification = true
	state.PendingClarifications = []string{"Chapa gani ya mafuta?"}

	msg := Simple(state, model.LanguageSwahili)
	assert.Contains(t, msg, "Habari James!")
	assert.Contains(t, msg, "Asante sana kwa oda yako")
	assert.Contains(t, msg, "*Uwasilishaji:* Friday")
	assert.Contains(t, msg, "*Swali:*")
	assert.Contains(t, msg, "Chapa gani ya mafuta?")
}

func TestSimple_NoDeliveryDate(t *testing.T) {
	state := sampleState()
	state.DeliveryDate = ""

	assert.Contains(t, Simple(state, model.LanguageEnglish), "to be confirmed")
	assert.Contains(t, Simple(state, model.LanguageSwahili), "itahibitishwa")
}

func TestSimple_MixedLanguageUsesEnglish(t *testing.T) {
	msg := Simple(sampleState(), model.LanguageMixed)
	assert.Contains(t, msg, "Thank you for your order")
}

type fakeClient struct {
	resp *anthropic.MessageResponse
	last anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	return f.resp, nil
}

func TestGenerate_PromptCarriesStateAndLanguage(t *testing.T) {
	client := &fakeClient{resp: &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "Habari James! Oda yako imepokelewa."}},
	}}
	g := NewGenerator(client, Config{Model: "claude-haiku-4-5-20251001"})

	state := sampleState()
	state.Items[1].Confidence = model.ConfidenceLow
	state.Items[1].Notes = "brand unclear"

	msg, err := g.Generate(context.Background(), state, model.LanguageSwahili)
	require.NoError(t, err)
	assert.Equal(t, "Habari James! Oda yako imepokelewa.", msg)

	prompt := client.last.Messages[0].Content
	assert.Contains(t, prompt, "Customer: James")
	assert.Contains(t, prompt, "Organization: Mara Safari Lodge")
	assert.Contains(t, prompt, "rice: 50 kg")
	assert.Contains(t, prompt, "needs clarification: brand unclear")
	assert.True(t, strings.Contains(prompt, "in SWAHILI"))
}

func TestGenerate_NilClient(t *testing.T) {
	g := NewGenerator(nil, Config{})
	_, err := g.Generate(context.Background(), sampleState(), model.LanguageEnglish)
	assert.Error(t, err)
}

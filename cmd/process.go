package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/confirm"
	"github.com/kijani-supplies/order-desk/internal/erp"
	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/reconcile"
	"github.com/kijani-supplies/order-desk/internal/routing"
)

var (
	processConversation string
	processCustomer     string
	processMessage      string
	processType         string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one customer message end-to-end",
	Long:  "Extracts the message, merges it into the conversation's cumulative order, routes the result, and prints the committed turn with a confirmation draft.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := processTurn(ctx, e, processConversation, processCustomer, processMessage, processType)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// turnResult is the JSON the processing commands and the HTTP API return
// for one committed turn.
type turnResult struct {
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	Version        int                    `json:"version"`
	Decision       routing.Decision       `json:"decision"`
	Changes        model.ChangeRecord     `json:"changes"`
	Summary        reconcile.Summary      `json:"summary"`
	Cancelled      []string               `json:"cancelled,omitempty"`
	Unmatched      []string               `json:"unmatched_cancellations,omitempty"`
	State          *model.CumulativeState `json:"state"`
	Confirmation   string                 `json:"confirmation"`
}

// processTurn runs the full intake path for one inbound message: log it,
// extract against order history, commit into the cumulative state, route,
// persist the routed order, and draft a confirmation reply.
func processTurn(ctx context.Context, e *env, conversationID, customerName, content, msgType string) (*turnResult, error) {
	if content == "" {
		return nil, eris.New("message text is required")
	}
	if e.Extractor == nil {
		return nil, eris.New("anthropic API key is required (ORDERDESK_ANTHROPIC_KEY)")
	}

	conv, err := ensureConversation(ctx, e, conversationID, customerName)
	if err != nil {
		return nil, err
	}

	msg, err := e.Store.AppendMessage(ctx, conv.ID, model.RoleCustomer, content, msgType)
	if err != nil {
		return nil, err
	}

	historyContext, err := e.History.Context(ctx, conv.CustomerName, "")
	if err != nil {
		zap.L().Warn("order history unavailable", zap.String("conversation", conv.ID), zap.Error(err))
		historyContext = ""
	}

	extraction, err := e.Extractor.Extract(ctx, content, historyContext)
	if err != nil {
		return nil, err
	}

	res, err := e.Manager.Commit(ctx, conv.ID, extraction, msg.ID)
	if err != nil {
		return nil, err
	}

	decision := routing.Decide(res.State)
	if err := saveRoutedOrder(ctx, e, res.State, decision); err != nil {
		return nil, err
	}
	if err := updateConversation(ctx, e, conv.ID, res.State); err != nil {
		return nil, err
	}

	summary := reconcile.FormatChanges(res.Changes, res.State)
	confirmation := draftConfirmation(ctx, e, res.State, extraction.DetectedLanguage)
	if _, err := e.Store.AppendMessage(ctx, conv.ID, model.RoleAssistant, confirmation, "confirmation"); err != nil {
		return nil, err
	}

	zap.L().Info("turn committed",
		zap.String("conversation", conv.ID),
		zap.Int("version", res.State.Version),
		zap.String("decision", string(decision)),
		zap.Int("added", len(res.Changes.Added)),
		zap.Int("modified", len(res.Changes.Modified)),
		zap.Int("cancelled", len(res.Cancelled)),
	)

	return &turnResult{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Version:        res.State.Version,
		Decision:       decision,
		Changes:        res.Changes,
		Summary:        summary,
		Cancelled:      res.Cancelled,
		Unmatched:      res.Unmatched,
		State:          res.State,
		Confirmation:   confirmation,
	}, nil
}

func ensureConversation(ctx context.Context, e *env, conversationID, customerName string) (*model.Conversation, error) {
	if conversationID == "" {
		return e.Store.CreateConversation(ctx, customerName)
	}
	return e.Store.GetConversation(ctx, conversationID)
}

// saveRoutedOrder keeps one order row per conversation, rewritten on every
// commit so the routing decision always reflects the latest version.
func saveRoutedOrder(ctx context.Context, e *env, st *model.CumulativeState, decision routing.Decision) error {
	payload := erp.BuildPayload(st)
	return e.Store.SaveOrder(ctx, &model.Order{
		ID:              st.ConversationID,
		ConversationID:  st.ConversationID,
		CustomerName:    st.CustomerName,
		Organization:    st.CustomerOrganization,
		Items:           st.ActiveItems(),
		DeliveryDate:    st.DeliveryDate,
		Urgency:         st.Urgency,
		Confidence:      st.OverallConfidence,
		ConfidenceScore: payload.ConfidenceScore,
		RequiresReview:  payload.RequiresReview,
		RoutingDecision: string(decision),
	})
}

func updateConversation(ctx context.Context, e *env, conversationID string, st *model.CumulativeState) error {
	status := model.ConversationActive
	if st.RequiresClarification {
		status = model.ConversationNeedsClarification
	}
	return e.Store.UpdateConversationStatus(ctx, conversationID, status)
}

// draftConfirmation prefers the generated reply and falls back to the
// template when generation is unavailable or fails.
func draftConfirmation(ctx context.Context, e *env, st *model.CumulativeState, lang model.Language) string {
	if e.Confirmer != nil {
		text, err := e.Confirmer.Generate(ctx, st, lang)
		if err == nil {
			return text
		}
		zap.L().Warn("confirmation generation failed, using template",
			zap.String("conversation", st.ConversationID), zap.Error(err))
	}
	return confirm.Simple(st, lang)
}

func init() {
	processCmd.Flags().StringVar(&processConversation, "conversation", "", "existing conversation ID (omit to start a new one)")
	processCmd.Flags().StringVar(&processCustomer, "customer", "", "customer name for a new conversation")
	processCmd.Flags().StringVar(&processMessage, "message", "", "customer message text (required)")
	processCmd.Flags().StringVar(&processType, "type", "text", "message type (text, voice_transcription, clarification)")
	_ = processCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(processCmd)
}

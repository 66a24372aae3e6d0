package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/erp"
	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/routing"
	"github.com/kijani-supplies/order-desk/internal/store"
)

var (
	submitConversation string
	submitDryRun       bool
	submitForce        bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a conversation's order to Odoo",
	Long:  "Builds the ERP payload from the conversation's committed order, prices it against the customer's tier, and creates a sale order in Odoo. Manual-tier orders are refused unless --force is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := e.Manager.Get(ctx, submitConversation)
		if err != nil {
			return err
		}

		decision := routing.Decide(st)
		if decision == routing.Manual && !submitForce {
			return eris.Errorf("order is routed %s; rerun with --force after review", decision)
		}

		payload := erp.BuildPayload(st)
		if len(payload.OrderLines) == 0 {
			return eris.New("order has no active items")
		}

		priced := priceOrder(ctx, e, st)
		fmt.Fprintln(os.Stdout, priced.Summary())
		fmt.Fprintln(os.Stdout)

		if submitDryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}

		client, err := initOdoo()
		if err != nil {
			return err
		}
		result, err := client.SubmitOrder(ctx, payload)
		if err != nil {
			return err
		}

		if err := recordSubmission(ctx, e, st, decision, result.OrderName); err != nil {
			return err
		}

		zap.L().Info("order submitted",
			zap.String("conversation", submitConversation),
			zap.String("order", result.OrderName),
			zap.Int("unmatched", len(result.UnmatchedProducts)),
		)

		fmt.Fprintf(os.Stdout, "Created %s\n", result.OrderName)
		if len(result.UnmatchedProducts) > 0 {
			fmt.Fprintf(os.Stdout, "Needs manual add in Odoo: %s\n", strings.Join(result.UnmatchedProducts, ", "))
		}
		return nil
	},
}

// priceOrder prices against the customer's tier and the seeded catalog.
// Unknown customers price as standard; unknown products price at zero and
// show up in the summary for review.
func priceOrder(ctx context.Context, e *env, st *model.CumulativeState) erp.PricedOrder {
	tier := model.TierStandard
	customer, err := e.Store.FindCustomer(ctx, st.CustomerName, st.CustomerOrganization)
	if err == nil {
		tier = customer.Tier
	} else if !eris.Is(err, store.ErrNotFound) {
		zap.L().Warn("customer lookup failed", zap.Error(err))
	}

	basePrices := map[string]float64{}
	products, err := e.Store.ListProducts(ctx)
	if err != nil {
		zap.L().Warn("catalog unavailable, pricing at zero", zap.Error(err))
	}
	for _, p := range products {
		basePrices[strings.ToLower(p.Name)] = p.Price
	}

	return erp.NewPricer(cfg.Pricing).Price(st, tier, basePrices)
}

func recordSubmission(ctx context.Context, e *env, st *model.CumulativeState, decision routing.Decision, orderRef string) error {
	payload := erp.BuildPayload(st)
	if err := e.Store.SaveOrder(ctx, &model.Order{
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
		ERPOrderRef:     orderRef,
	}); err != nil {
		return err
	}
	return e.Store.UpdateConversationStatus(ctx, st.ConversationID, model.ConversationCompleted)
}

func init() {
	submitCmd.Flags().StringVar(&submitConversation, "conversation", "", "conversation ID (required)")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "print the priced payload without submitting")
	submitCmd.Flags().BoolVar(&submitForce, "force", false, "submit even when routed manual")
	_ = submitCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(submitCmd)
}

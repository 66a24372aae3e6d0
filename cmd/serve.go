package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/routing"
	"github.com/kijani-supplies/order-desk/internal/state"
	"github.com/kijani-supplies/order-desk/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the order intake HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: apiMux(e),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func apiMux(e *env) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			CustomerName   string `json:"customer_name"`
			Message        string `json:"message"`
			Type           string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(w, `{"error":"message is required"}`, http.StatusBadRequest)
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		result, err := processTurn(r.Context(), e, req.ConversationID, req.CustomerName, req.Message, req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		conv, err := e.Store.GetConversation(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		st, err := e.Manager.Get(r.Context(), id)
		if err != nil && !eris.Is(err, store.ErrNotFound) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": conv,
			"state":        st,
		})
	})

	mux.HandleFunc("GET /conversations/{id}/snapshots", func(w http.ResponseWriter, r *http.Request) {
		snaps, err := e.Manager.History(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
	})

	mux.HandleFunc("POST /conversations/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var req struct {
			Items []string `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Items) == 0 {
			http.Error(w, `{"error":"items are required"}`, http.StatusBadRequest)
			return
		}

		msg, err := e.Store.AppendMessage(r.Context(), id, model.RoleCustomer,
			"cancel: "+strings.Join(req.Items, ", "), "cancellation")
		if err != nil {
			writeError(w, err)
			return
		}
		res, err := e.Manager.CancelItems(r.Context(), id, req.Items, msg.ID)
		if err != nil {
			writeError(w, err)
			return
		}

		decision := routing.Decide(res.State)
		if err := saveRoutedOrder(r.Context(), e, res.State, decision); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"cancelled": res.Cancelled,
			"unmatched": res.Unmatched,
			"decision":  decision,
			"state":     res.State,
		})
	})

	mux.HandleFunc("GET /metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		counts, err := e.Store.CountOrdersByDecision(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders_by_decision": counts})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the engine's error taxonomy to HTTP statuses: conflicts
// for ordering violations, unprocessable for rejected extractions, not
// found for unknown resources, and 500 for the rest.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, state.ErrDuplicateMessage), eris.Is(err, state.ErrOutOfOrder), eris.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	case eris.Is(err, model.ErrMalformedExtraction):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

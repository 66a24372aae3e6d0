package main

import (
	"bufio"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kijani-supplies/order-desk/internal/state"
)

var (
	replayFile        string
	replayConcurrency int
)

// replayLine is one JSONL record in a message log.
type replayLine struct {
	ConversationID string `json:"conversation_id"`
	CustomerName   string `json:"customer_name"`
	Message        string `json:"message"`
	Type           string `json:"type"`
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a JSONL message log through the engine",
	Long:  "Processes a captured message log. Conversations run concurrently; messages within one conversation commit strictly in file order. Duplicate and out-of-order messages are skipped and counted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		byConversation, order, err := readReplayFile(replayFile)
		if err != nil {
			return err
		}

		concurrency := replayConcurrency
		if concurrency == 0 {
			concurrency = cfg.Replay.MaxConcurrentConversations
		}
		if concurrency <= 0 {
			concurrency = 1
		}

		var committed, skipped, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, convID := range order {
			lines := byConversation[convID]
			g.Go(func() error {
				// Sequential within the conversation: a failed turn
				// still leaves earlier commits in place.
				conversationID := ""
				for _, line := range lines {
					msgType := line.Type
					if msgType == "" {
						msgType = "text"
					}
					result, err := processTurn(gctx, e, conversationID, line.CustomerName, line.Message, msgType)
					switch {
					case err == nil:
						conversationID = result.ConversationID
						committed.Add(1)
					case eris.Is(err, state.ErrDuplicateMessage), eris.Is(err, state.ErrOutOfOrder):
						skipped.Add(1)
					default:
						failed.Add(1)
						zap.L().Error("replay turn failed",
							zap.String("log_conversation", convID),
							zap.Error(err),
						)
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("replay complete",
			zap.Int("conversations", len(order)),
			zap.Int64("committed", committed.Load()),
			zap.Int64("skipped", skipped.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

// readReplayFile groups the log by conversation, preserving both line order
// within a conversation and first-seen conversation order.
func readReplayFile(path string) (map[string][]replayLine, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open replay file")
	}
	defer f.Close()

	byConversation := make(map[string][]replayLine)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line replayLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, nil, eris.Wrapf(err, "replay file line %d", lineNo)
		}
		if line.Message == "" {
			return nil, nil, eris.Errorf("replay file line %d: message is required", lineNo)
		}
		if _, seen := byConversation[line.ConversationID]; !seen {
			order = append(order, line.ConversationID)
		}
		byConversation[line.ConversationID] = append(byConversation[line.ConversationID], line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "read replay file")
	}
	if len(order) == 0 {
		return nil, nil, eris.New("replay file has no messages")
	}
	return byConversation, order, nil
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "JSONL message log (required)")
	replayCmd.Flags().IntVar(&replayConcurrency, "concurrency", 0, "max concurrent conversations (default from config)")
	_ = replayCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(replayCmd)
}

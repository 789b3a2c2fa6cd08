package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/infra/redis"
)

var (
	sendType     string
	sendRef      string
	sendSourceID string
)

var sendCmd = &cobra.Command{
	Use:   "send <payload>",
	Short: "Enqueue one work item on the incoming stream",
	Args:  cobra.ExactArgs(1),
	Run:   runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", "generic", "work item type")
	sendCmd.Flags().StringVar(&sendRef, "ref", "", "prompt reference (required)")
	sendCmd.Flags().StringVar(&sendSourceID, "source-id", "", "correlation id (default: random UUID)")
	_ = sendCmd.MarkFlagRequired("ref")
	rootCmd.AddCommand(sendCmd)
}

// buildRecord encodes a work item as an inbound stream record.
func buildRecord(item domain.WorkItem, sourceID string) (broker.Record, error) {
	if sourceID == "" {
		sourceID = uuid.NewString()
	}
	value, err := json.Marshal(item)
	if err != nil {
		return broker.Record{}, err
	}
	return broker.Record{
		Key:     sourceID,
		Value:   value,
		Headers: map[string]string{broker.HeaderSourceID: sourceID},
	}, nil
}

func runSend(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	rec, err := buildRecord(domain.WorkItem{Type: sendType, Ref: sendRef, Payload: args[0]}, sendSourceID)
	if err != nil {
		slog.Error("Failed to encode work item", "error", err)
		os.Exit(1)
	}

	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streams := redis.NewStreams(client, redis.StreamConfig{Partitions: cfg.Streams.Partitions})
	id, err := streams.Send(ctx, cfg.Streams.Incoming, rec)
	if err != nil {
		slog.Error("Failed to send work item", "error", err)
		os.Exit(1)
	}

	partition := broker.PartitionFor(rec.Key, cfg.Streams.Partitions)
	fmt.Printf("sent %s to %s (id %s)\n", rec.Key, redis.StreamKey(cfg.Streams.Incoming, partition), id)
}

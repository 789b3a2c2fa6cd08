package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/aiprocessor/internal/broker"
	"github.com/vietddude/aiprocessor/internal/core/config"
	"github.com/vietddude/aiprocessor/internal/infra/redis"
	"github.com/vietddude/aiprocessor/internal/infra/storage"
	"github.com/vietddude/aiprocessor/internal/infra/storage/postgres"
)

var dlqLimit int64

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered entries and recent corrupt records",
	Run:   runDLQ,
}

func init() {
	dlqCmd.Flags().Int64Var(&dlqLimit, "limit", 20, "entries per partition and corrupt records to show")
	rootCmd.AddCommand(dlqCmd)
}

// streamReader reads stored entries of one partition.
type streamReader interface {
	Range(ctx context.Context, topic string, partition int, count int64) ([]*broker.Message, error)
}

func runDLQ(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()
	streams := redis.NewStreams(client, redis.StreamConfig{Partitions: cfg.Streams.Partitions})

	var records storage.RecoveryRecordRepository
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Warn("Failed to connect to database", "error", err)
		} else {
			defer func() {
				_ = db.Close()
			}()
			records = postgres.NewRecoveryRecordRepo(db)
		}
	}

	if err := writeDLQ(ctx, os.Stdout, streams, records, cfg.Streams, dlqLimit); err != nil {
		slog.Error("Failed to read dead letters", "error", err)
		os.Exit(1)
	}
}

// writeDLQ prints both dead-letter streams and, when records is set, the
// newest corrupt records.
func writeDLQ(ctx context.Context, out io.Writer, streams streamReader, records storage.RecoveryRecordRepository, sc config.StreamsConfig, limit int64) error {
	business, err := readAll(ctx, streams, sc.BusinessDLQ, sc.Partitions, limit)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Business dead letters (%s), manual fix needed: %d\n", sc.BusinessDLQ, len(business))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tREF\tKIND\tREASON")
	for _, m := range business {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.SourceID(),
			m.Headers[broker.HeaderRef], m.Headers[broker.HeaderErrorKind], m.Headers[broker.HeaderReason])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	transport, err := readAll(ctx, streams, sc.TransportDLQ, sc.Partitions, limit)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "\nTransport dead letters (%s): %d\n", sc.TransportDLQ, len(transport))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tORIGIN\tCLASS\tMESSAGE")
	for _, m := range transport {
		origin := fmt.Sprintf("%s:%s@%s", m.Headers[broker.HeaderOriginalTopic],
			m.Headers[broker.HeaderOriginalPartition], m.Headers[broker.HeaderOriginalOffset])
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.SourceID(), origin,
			m.Headers[broker.HeaderExceptionClass], m.Headers[broker.HeaderExceptionMessage])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if records == nil {
		_, _ = fmt.Fprintln(out, "\nCorrupt records: n/a (no database)")
		return nil
	}
	recs, err := records.Recent(ctx, int(limit))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "\nCorrupt records (newest %d)\n", len(recs))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tTOPIC\tMESSAGE ID\tERROR")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format(time.RFC3339), r.Topic, r.MessageID, r.ErrorMessage)
	}
	return w.Flush()
}

func readAll(ctx context.Context, streams streamReader, topic string, partitions int, limit int64) ([]*broker.Message, error) {
	var out []*broker.Message
	for p := 0; p < partitions; p++ {
		msgs, err := streams.Range(ctx, topic, p, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay and verify the audit trail",
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [trace-id]",
	Short: "Print the ordered audit records for a trace",
	Args:  cobra.ExactArgs(1),
	RunE:  auditReplay,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [trace-id]",
	Short: "Verify the HMAC signatures of a trace's audit records",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditCmd.AddCommand(auditReplayCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*bucket.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return bucket.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
}

func auditReplay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	traceID := args[0]

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	records, err := store.Replay(ctx, traceID)
	if err != nil {
		return fmt.Errorf("replaying audit trail: %w", err)
	}
	if len(records) == 0 {
		fmt.Printf("No audit records found for %s.\n", traceID)
		return nil
	}
	renderReplay(os.Stdout, traceID, records)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	traceID := args[0]

	store, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer store.Close()

	valid, err := store.Verify(ctx, traceID)
	if err != nil {
		return fmt.Errorf("verifying audit trail: %w", err)
	}
	renderVerifyResult(os.Stdout, traceID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", traceID)
	}
	return nil
}

// renderReplay writes the audit trail lines to w (testable).
func renderReplay(w io.Writer, traceID string, records []bucket.Record) {
	fmt.Fprintf(w, "Audit trail for %s (%d stages):\n\n", traceID, len(records))
	for i := range records {
		rec := &records[i]
		fmt.Fprintf(w, "  %2d %-20s %s %s\n",
			rec.Seq,
			rec.Stage,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Payload,
		)
	}
}

// renderVerifyResult writes verify outcome to w (testable).
func renderVerifyResult(w io.Writer, traceID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Trace %s: all signatures VALID (HMAC-SHA256 intact)\n", traceID)
	} else {
		fmt.Fprintf(w, "✗ Trace %s: signature INVALID (possible tampering)\n", traceID)
	}
}

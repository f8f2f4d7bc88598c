package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warden-io/warden/internal/policy"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the policy table",
	Long:  "Loads the embedded policy defaults plus an optional override file and compiles every pattern.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		_, span := tracer.Start(ctx, "validate")
		defer span.End()

		table, err := policy.Load(ctx, validateFile)
		if err != nil {
			log.Error().
				Err(err).
				Str("file", validateFile).
				Msg("policy_validation_failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed\n")
			return fmt.Errorf("validation failed: %w", err)
		}

		log.Info().
			Str("version", table.Table.VersionTag).
			Msg("policy_validated")

		fmt.Println("✓ Policy valid")
		fmt.Printf("  Version: %s\n", table.Table.VersionTag)
		fmt.Printf("  Hard-deny rules: %d\n", len(table.HardDeny))
		fmt.Printf("  Soft-rewrite rules: %d\n", len(table.SoftRewrite))
		fmt.Printf("  Intents: %d\n", len(table.Intents))
		if validateFile != "" {
			fmt.Printf("  Override: %s\n", validateFile)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "policy override file (default: embedded policy only)")
}

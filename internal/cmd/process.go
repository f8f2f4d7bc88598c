package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warden-io/warden/internal/channel"
	"github.com/warden-io/warden/internal/pipeline"
)

var processChannel string

var processCmd = &cobra.Command{
	Use:   "process [message]",
	Short: "Run one message through the pipeline and print the response",
	Long: `Processes a single message exactly as the server would: safety
evaluation, risk classification, enforcement, intent resolution, and
execution, with the full audit trail written. The JSON response envelope
is printed to stdout. With no argument the message is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processChannel, "channel", channel.Web, "source channel (web, whatsapp, email, telephony)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ctx, span := tracer.Start(ctx, "process")
	defer span.End()

	message, err := readMessage(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	req := &channel.Request{
		Version: "3.0.0",
		Input:   channel.Input{Message: message},
		Context: channel.Context{
			Platform:   processChannel,
			VoiceInput: processChannel == channel.Telephony,
		},
	}
	if serr := pipeline.Validate(req); serr != nil {
		return fmt.Errorf("invalid request: %w", serr)
	}

	resp := st.pipeline.Process(ctx, req)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// readMessage takes the message from argv when given, otherwise from stdin.
func readMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading message from stdin: %w", err)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", fmt.Errorf("no message given (pass as argument or on stdin)")
	}
	return msg, nil
}

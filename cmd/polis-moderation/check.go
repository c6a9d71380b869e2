package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-moderation/pkg/logging"
	"github.com/polisai/polis-moderation/pkg/service"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [text...]",
		Short: "Classify text from arguments or stdin and print the outcome as JSON",
		RunE:  runCheck,
	}

	cmd.Flags().StringP("kind", "k", string(service.KindPost), "Submission kind (post, comment)")
	cmd.Flags().Bool("fail-on-flag", false, "Exit with status 2 when the content is flagged")

	return cmd
}

// readContent joins positional args, or reads all of stdin when none are given.
func readContent(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	kind, err := cmd.Flags().GetString("kind")
	if err != nil {
		return fmt.Errorf("failed to get kind flag: %w", err)
	}
	failOnFlag, err := cmd.Flags().GetBool("fail-on-flag")
	if err != nil {
		return fmt.Errorf("failed to get fail-on-flag flag: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: "warn", Format: "text", Output: cmd.ErrOrStderr()})
	slog.SetDefault(logger)

	moderator, err := buildModerator(cmd.Context(), cfg, nil, logger)
	if err != nil {
		return err
	}

	content, err := readContent(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	out, err := moderator.Moderate(cmd.Context(), service.Submission{Kind: service.Kind(kind), Content: content})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}

	if failOnFlag && out.Annotation.IsFlagged {
		return errFlagged
	}
	return nil
}

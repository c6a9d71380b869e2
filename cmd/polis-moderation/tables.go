package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-moderation/pkg/config"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Print the active keyword tables and thresholds as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tables, err := loadTables(cfg)
			if err != nil {
				return fmt.Errorf("failed to load tables: %w", err)
			}
			data, err := config.MarshalTables(tables)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"floatingtimer/backend/internal/prefs"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Inspect the widget layout preferences",
}

var layoutShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored widget layout as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		layout, err := prefs.NewStore(cfg.LayoutPath).Load()
		if err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(layout)
	},
}

func init() {
	layoutCmd.AddCommand(layoutShowCmd)
	rootCmd.AddCommand(layoutCmd)
}

package main

import (
	"fmt"

	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the configuration after defaults, file and FACERANGE_* environment
overrides are applied.

Configuration locations:
  System: /etc/facerange/facerange.yaml
  User:   ~/.config/facerange/facerange.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Debugf("Showing configuration")

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		fmt.Println("# Current configuration")
		fmt.Print(string(out))
		return nil
	},
}

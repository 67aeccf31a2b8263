package cmd

import (
	"fmt"

	"github.com/rustyeddy/straddle/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  straddle config init -o nifty.yaml
  straddle config validate -f nifty.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "straddle.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nSet the expiry, edit the file and run with:")
	fmt.Printf("  straddle run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Underlying: %s (expiry %q)\n", cfg.Underlying, cfg.Expiry)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.Type)
	if cfg.Redis.Enabled {
		fmt.Printf("  Strategy: from Redis at %s\n", cfg.Redis.Addr)
	} else {
		s := cfg.FileStrategy()
		fmt.Printf("  Strategy: qty %d, target %.0f, exit %.0f, trailing %v\n",
			s.Quantity, s.TargetPnL, s.ExitPnL, s.TrailStopLoss)
	}
	fmt.Printf("  Journal: %s\n", cfg.Journal.Type)
	return nil
}

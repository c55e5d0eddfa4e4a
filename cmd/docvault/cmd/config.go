package cmd

import (
	"fmt"
	"os"

	"github.com/javi11/docvault/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE:  runConfigShow,
	}

	configCmd.AddCommand(initCmd, showCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite it", configFile)
	}

	if err := config.SaveToFile(config.DefaultConfig(), configFile); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", configFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

const masked = "********"

// redactConfig returns a copy of cfg with credentials masked
func redactConfig(cfg *config.Config) *config.Config {
	cp := cfg.DeepCopy()

	mask := func(s *string) {
		if *s != "" {
			*s = masked
		}
	}

	mask(&cp.Auth.JWTSecret)
	for i := range cp.Auth.Users {
		mask(&cp.Auth.Users[i].Password)
	}
	mask(&cp.Database.DSN)
	mask(&cp.Remote.Drive.CredentialsJSON)
	mask(&cp.Remote.S3.SecretKey)

	return cp
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/p-arndt/sandkastendb/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		configPath string
		apiKey     string
		dbPath     string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				generated, err := generateAPIKey()
				if err != nil {
					return fmt.Errorf("generate API key: %w", err)
				}
				apiKey = generated
			}

			cfg := config.Default()
			cfg.APIKey = apiKey
			if dbPath != "" {
				cfg.Registry.DBPath = dbPath
			}
			if err := writeInitialConfig(configPath, cfg, force); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "sandkastendb initialized.")
			fmt.Fprintf(out, "- Config: %s\n", configPath)
			fmt.Fprintf(out, "- Registry: %s\n", cfg.Registry.DBPath)
			fmt.Fprintf(out, "- Start daemon: sandkastendb serve --config %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "out", "sandkastendb.yaml", "path for the generated config")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key to write (generated if empty)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "registry database file (default in-memory)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func writeInitialConfig(path string, cfg *config.Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "sk-" + hex.EncodeToString(raw), nil
}

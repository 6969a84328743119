package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/p-arndt/sandkastendb/internal/config"
)

var defaultConfigPaths = []string{"sandkastendb.yaml", "/etc/sandkastendb/sandkastendb.yaml"}

type rootOptions struct {
	configPath string
	host       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sandkastendb",
		Short: "Disposable per-sandbox in-memory databases behind a keyed pool",
		Long: `sandkastendb hands out pooled connections to throwaway SQL databases.

Every sandbox key addresses its own in-memory database. The database
comes into existence on the first connection and is dropped when the
pool retires its connections.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to sandkastendb.yaml")
	cmd.PersistentFlags().StringVar(&opts.host, "host", "", "daemon URL (e.g. http://127.0.0.1:40025); overrides the config")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newServeCmd(opts),
		newInitCmd(),
		newPsCmd(opts),
		newExecCmd(opts),
	)
	return cmd
}

// loadConfig reads --config, or the first default location that exists.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	return config.Load(path)
}

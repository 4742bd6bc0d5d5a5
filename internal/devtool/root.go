// Package devtool holds the cobra commands of the devtool binary.
package devtool

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kanggyeonggu/identity-service/internal/app"
	"github.com/kanggyeonggu/identity-service/internal/config"
	"github.com/kanggyeonggu/identity-service/internal/logger"
)

type rootOptions struct {
	verbose bool
	noRedis bool
}

// NewRootCmd builds the devtool command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "devtool",
		Short: "Identity service development tooling",
		Long: `devtool runs maintenance tasks that never run inside the server.

Example usage:
  devtool reset-sequence                 # rewind the identity id counter (non-prod, no live identities)
  devtool delete-user 42                 # soft-delete identity 42 and end its sessions
  devtool session refresh --token <raw>  # exchange a refresh credential for an access token`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&opts.noRedis, "no-redis", false, "do not connect to Redis")

	root.AddCommand(newResetSequenceCmd(opts), newDeleteUserCmd(opts), newSessionCmd(opts))
	return root
}

func (o *rootOptions) logger() *slog.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	return logger.InitWriter(os.Stderr, level)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return config.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// openApp loads configuration from the environment and wires the service
// without starting the HTTP server.
func (o *rootOptions) openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return o.openAppWith(cfg)
}

// openAppWith wires the service from an already loaded configuration. It
// opens the database and applies migrations.
func (o *rootOptions) openAppWith(cfg config.Config) (*app.App, error) {
	return app.New(cfg, o.logger(), app.Options{SkipRedis: o.noRedis})
}

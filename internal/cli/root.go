package cli

import (
	"context"
	goflag "flag"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/app"
	"github.com/zhouzirui/gyn-intake/backend/internal/config"
)

var klogFlags sync.Once

// BuildFunc wires the application for a command.
type BuildFunc func(ctx context.Context) (*app.App, error)

// DefaultBuild loads configuration from the environment and wires the app.
func DefaultBuild(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.SetVerbosity(goflag.CommandLine, cfg.Log)
	return app.Build(ctx, cfg)
}

// NewRootCommand returns the intake CLI.
func NewRootCommand(build BuildFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "intake",
		Short: "Run and inspect gynecology intake sessions",
		Long: `intake runs a gynecology history-taking conversation in the terminal and
manages the session documents it stores, one JSON file per patient.`,
		SilenceUsage: true,
	}

	klogFlags.Do(func() { klog.InitFlags(nil) })
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)

	root.AddCommand(
		newChatCommand(build),
		newShowCommand(build),
		newListCommand(build),
		newTransferCommand(build),
	)
	return root
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "simulator:", err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	scenarioPath string
	ticks        uint64
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "simulator",
		Short:         "Commuter populations on a road network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the simulator YAML configuration")
	root.PersistentFlags().StringVar(&opts.scenarioPath, "scenario", "", "road network scenario (overrides network.path)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation until the tick limit or an interrupt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := runSimulation(cmd.Context(), *opts, cmd.Flags().Changed("ticks"), cmd.ErrOrStderr())
			return err
		},
	}
	run.Flags().Uint64Var(&opts.ticks, "ticks", 0, "number of ticks to run (0 = until interrupted; overrides max_ticks)")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration, network and populations without running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateSetup(cmd.Context(), *opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	root.AddCommand(run, validate)
	return root
}

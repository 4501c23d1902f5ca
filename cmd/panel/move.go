package main

import (
	"github.com/spf13/cobra"

	clierrors "github.com/robokit-dev/panel/internal/errors"
	"github.com/robokit-dev/panel/internal/output"
)

func newMoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Play and stop robot moves",
		Long: `Fire-and-forget move commands. The daemon acknowledges the request
immediately; move execution is not tracked.`,
	}

	cmd.AddCommand(newMovePlayCmd())
	cmd.AddCommand(newMoveStopCmd())

	return cmd
}

func newMovePlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "play <name>",
		Short:   "Play a move",
		Example: `  panel move play wave`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			_, client := newDaemonClient()

			if err := client.PlayMove(cmd.Context(), args[0]); err != nil {
				return clierrors.DaemonUnreachable(err)
			}

			out.Success("Playing %s", args[0])

			return nil
		},
	}
}

func newMoveStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the current move",
		Example: `  panel move stop`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			_, client := newDaemonClient()

			if err := client.StopMove(cmd.Context()); err != nil {
				return clierrors.DaemonUnreachable(err)
			}

			out.Success("Move stopped")

			return nil
		},
	}
}

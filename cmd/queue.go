package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect per-service dispatch queues",
}

var queueDepthCmd = &cobra.Command{
	Use:   "depth <service>",
	Short: "Print the current length of a service's dispatch queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDepth,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueDepthCmd)
}

func runQueueDepth(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(cmd)
	if err != nil {
		printError(err)
		return err
	}
	defer a.Close()

	depth, err := a.Service.Query.QueueDepth(cmd.Context(), args[0])
	if err != nil {
		printError(err)
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), depth)
	return nil
}

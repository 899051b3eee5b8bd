// File: cmd/enqueue.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nullvane/deskhand/internal/queue"
)

// newEnqueueCmd creates the `enqueue` command. It appends a command line to
// the queue file through the same intake screening the watcher applies, so
// obviously unsafe text is refused at the door instead of at run time.
func newEnqueueCmd() *cobra.Command {
	enqueueCmd := &cobra.Command{
		Use:   "enqueue [command text...]",
		Short: "Appends a command to the queue file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			seq, err := queue.Append(cfg.Queue.CommandsFile, text)
			if err != nil {
				return fmt.Errorf("failed to enqueue command: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued command #%d: %s\n", seq, text)
			return nil
		},
	}
	return enqueueCmd
}

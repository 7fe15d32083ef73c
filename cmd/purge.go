package cmd

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPurgeCmd creates the 'purge' subcommand, which deletes one issue's pages.
func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge YYYY-MM-DD",
		Short: "Deletes every stored page of one issue",
		Long: `Deletes all blobs under publisher/YYYY/MM/DD/ so the next scrape fetches the
issue again. Asks for confirmation unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(runPurgeCommand),
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}

func runPurgeCommand(cmd *cobra.Command, args []string, appInstance App) error {
	date, err := time.Parse(time.DateOnly, args[0])
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	profile, err := appInstance.Config().Profile()
	if err != nil {
		return err
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}
	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete all %s pages for %s? [y/N]: ", profile.Name, date.Format(time.DateOnly))
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	deleted, err := appInstance.Sink().PurgeDate(cmd.Context(), profile.Name, date)
	if err != nil {
		return fmt.Errorf("purge %s: %w", date.Format(time.DateOnly), err)
	}
	appInstance.Logger().Info("issue purged",
		zap.String("publisher", profile.Name),
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("deleted", deleted),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d pages.\n", deleted)
	return nil
}

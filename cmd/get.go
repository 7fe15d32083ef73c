package cmd

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// newGetCmd creates the 'get' subcommand, which downloads one stored page.
func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get YYYY-MM-DD PAGE",
		Short: "Downloads one stored page of the configured publisher",
		Long: `Downloads publisher/YYYY/MM/DD/NNN.ext from the blob store. The page is written
to --output, to NNN.ext in the current directory when no output is given, or to
stdout when the output is "-".`,
		Args: cobra.ExactArgs(2),
		RunE: withApp(runGetCommand),
	}
	cmd.Flags().StringP("output", "o", "", `destination file, "-" for stdout`)
	return cmd
}

func runGetCommand(cmd *cobra.Command, args []string, appInstance App) error {
	date, err := time.Parse(time.DateOnly, args[0])
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	page, err := strconv.Atoi(args[1])
	if err != nil || page <= 0 {
		return fmt.Errorf("invalid page number %q", args[1])
	}
	profile, err := appInstance.Config().Profile()
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	key := epaper.PageKey{Publisher: profile.Name, Date: date, Page: page, Ext: profile.Ext}
	data, err := appInstance.Sink().Get(cmd.Context(), key)
	if err != nil {
		return err
	}

	if output == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if output == "" {
		output = path.Base(key.String())
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	appInstance.Logger().Info("page downloaded",
		zap.String("key", key.String()),
		zap.String("output", output),
		zap.Int("bytes", len(data)),
	)
	return nil
}

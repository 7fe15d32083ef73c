package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// newListCmd creates the 'list' subcommand, which prints stored pages.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [year [month [day]]]",
		Short: "Lists stored pages of the configured publisher",
		Args:  cobra.MaximumNArgs(3),
		RunE:  withApp(runListCommand),
	}
}

func runListCommand(cmd *cobra.Command, args []string, appInstance App) error {
	parts := make([]int, 3)
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid date component %q", arg)
		}
		parts[i] = n
	}
	profile, err := appInstance.Config().Profile()
	if err != nil {
		return err
	}

	objects, err := appInstance.Sink().List(cmd.Context(), profile.Name, parts[0], parts[1], parts[2])
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Name", "Size", "Last modified", "Content type"})
	var total int64
	for _, obj := range objects {
		modified := ""
		if !obj.LastModified.IsZero() {
			modified = obj.LastModified.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{obj.Key, obj.Size, modified, obj.ContentType})
		total += obj.Size
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d pages", len(objects)), total, "", ""})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Render()
	return nil
}

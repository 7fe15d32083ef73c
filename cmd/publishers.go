package cmd

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
)

// newPublishersCmd creates the 'publishers' subcommand, which prints the built-in profiles.
func newPublishersCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "publishers",
		Short:       "Prints the built-in publisher profiles",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Name", "Strategy", "URL template", "Weekdays only", "Ext"})
			for _, p := range epaper.Profiles() {
				var urls []string
				if p.Strategy == epaper.StrategyIndex {
					urls = append(urls, p.IndexURLTemplate)
				}
				for _, f := range p.Formats {
					urls = append(urls, f.Name+" ("+f.DateLayout+"): "+f.URLTemplate)
				}
				t.AppendRow(table.Row{p.Name, p.Strategy, strings.Join(urls, "\n"), p.WeekdaysOnly, p.Ext})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/junnnnnw00/shinbo-notification/internal/config"
	"github.com/junnnnnw00/shinbo-notification/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Print the configured sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sources, err := config.LoadSources(os.Getenv("SOURCES_FILE"))
		if err != nil {
			return err
		}
		renderSources(cmd.OutOrStdout(), sources)
		return nil
	},
}

func renderSources(out io.Writer, sources []source.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "Name", "Kind", "Endpoint", "Filter"})

	for _, cfg := range sources {
		t.AppendRow(table.Row{cfg.ID, cfg.DisplayName(), cfg.Kind, endpoint(cfg), filter(cfg)})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

func endpoint(cfg source.Config) string {
	switch {
	case cfg.HTML != nil:
		return cfg.HTML.PageURL
	case cfg.API != nil:
		method := cfg.API.Method
		if method == "" {
			method = "GET"
		}
		return fmt.Sprintf("%s %s (region %s)", strings.ToUpper(method), cfg.API.AjaxURL, cfg.API.RegionCode)
	default:
		return "-"
	}
}

func filter(cfg source.Config) string {
	var parts []string
	switch {
	case cfg.HTML != nil:
		if cfg.HTML.PinnedClass != "" {
			parts = append(parts, "skip ."+cfg.HTML.PinnedClass)
		}
		if cfg.HTML.ActiveText != "" {
			parts = append(parts, fmt.Sprintf("%s contains %q", cfg.HTML.StatusSelector, cfg.HTML.ActiveText))
		}
		if cfg.HTML.ActiveClass != "" {
			parts = append(parts, fmt.Sprintf("%s has .%s", cfg.HTML.StatusSelector, cfg.HTML.ActiveClass))
		}
	case cfg.API != nil:
		parts = append(parts, fmt.Sprintf("%s = %q", cfg.API.StatusField, cfg.API.ActiveStatus))
		if cfg.API.Policy != "" {
			parts = append(parts, string(cfg.API.Policy))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

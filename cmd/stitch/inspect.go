package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"stitch/internal/app"
	"stitch/internal/infrastructure"
)

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the years and columns of a contextual directory",
	Long: `inspect discovers the yearly contextual files for a measure, checks that
each carries the date, GEOID and data columns, and prints what it found.
No rows are loaded.`,
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&link.contextDir, "context-dir", "", "Directory of yearly contextual files")
	f.StringVar(&link.measureType, "measure-type", "", "Measure key; contextual file names must contain it")
	f.StringSliceVar(&link.dataCols, "data-col", nil, "Explicit contextual data columns (comma separated)")
	f.StringVar(&link.ctxGeoidCol, "contextual-geoid-col", "", "GEOID column in contextual files")
	f.StringVar(&link.ctxDateCol, "contextual-date-col", "", "Date column in contextual files")
	f.StringVar(&link.fileExt, "file-extension", "", "Only read contextual files with this extension")
	f.StringVar(&link.shape, "shape", "", "Contextual layout: long or wide")
	f.StringVar(&link.renameFile, "rename-file", "", "YAML file of per-year column renames")
	f.StringVar(&inspectFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	link.apply(cmd.Flags(), cfg)
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	inv, err := app.Inspect(cmd.Context(), cfg.Link, logger)
	if err != nil {
		return err
	}
	return writeInventory(cmd.OutOrStdout(), inv, inspectFormat)
}

func writeInventory(w io.Writer, inv *app.Inventory, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(inv)
	case "human":
		fmt.Fprintf(w, "Directory:    %s\n", inv.Dir)
		fmt.Fprintf(w, "Date column:  %s\n", inv.DateColumn)
		fmt.Fprintf(w, "GEOID column: %s\n", inv.GeoIDColumn)
		fmt.Fprintf(w, "Data columns: %s\n", strings.Join(inv.DataColumns, ", "))
		fmt.Fprintf(w, "Years (%d):\n", len(inv.Years))
		for _, y := range inv.Years {
			fmt.Fprintf(w, "  %d  %s\n", y.Year, y.Path)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q (want json or human)", format)
}

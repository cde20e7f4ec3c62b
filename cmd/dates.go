package cmd

import (
	"fmt"
	"io"
	"os"

	"camroll/internal"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var allFieldsFlag bool

var datesCmd = &cobra.Command{
	Use:   "dates [file...]",
	Short: "Show every timestamp found in a file and the date camroll would use",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := consoleLogger()
		fs := afero.NewOsFs()
		extractor := internal.NewExtractorFromConfig(fs, cfg, logger)
		resolver := internal.NewDateResolver(cfg, &internal.AutoDecider{}, logger)

		for _, path := range args {
			if err := showDates(os.Stdout, extractor, resolver, path, allFieldsFlag); err != nil {
				color.Red("%s: %v", path, err)
			}
		}
		return nil
	},
}

func showDates(w io.Writer, extractor *internal.Extractor, resolver *internal.DateResolver, path string, all bool) error {
	bundle, modTime, err := extractor.Extract(path)
	if err != nil {
		return err
	}

	color.New(color.Bold).Fprintf(w, "%s\n", path)
	if all {
		for _, k := range bundle.Keys() {
			fmt.Fprintf(w, "  %-36s %s\n", k, bundle[k])
		}
	} else {
		for _, c := range bundle.TimestampFields() {
			fmt.Fprintf(w, "  %-36s %s\n", c.Field, c.Value)
		}
	}
	fmt.Fprintf(w, "  %-36s %s\n", "File modification time", modTime.Format("2006-01-02 15:04:05"))

	ext := internal.FormatOf(path)
	res, err := resolver.Resolve(path, ext, bundle, modTime, false)
	switch {
	case err != nil:
		return err
	case !res.Resolved():
		color.New(color.FgYellow).Fprintf(w, "  => no date rules for %s files\n", ext)
	case res.Manual:
		color.New(color.FgYellow).Fprintf(w, "  => %s (fallback: %s)\n", res.Time.Format(internal.DateFormat), res.Source)
	default:
		color.New(color.FgCyan).Fprintf(w, "  => %s (from %s)\n", res.Time.Format(internal.DateFormat), res.Source)
	}
	return nil
}

func init() {
	datesCmd.Flags().BoolVar(&allFieldsFlag, "all", false, "Print every metadata field, not only dates and times")

	rootCmd.AddCommand(datesCmd)
}

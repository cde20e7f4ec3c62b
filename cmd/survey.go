package cmd

import (
	"fmt"
	"os"

	"camroll/internal"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	formatFlag        string
	duplicatesFlag    bool
	includeHiddenFlag bool
)

var surveyCmd = &cobra.Command{
	Use:   "survey [folder]",
	Short: "Report what a folder holds before organizing it",
	Long: `Scan a folder read-only and report formats, sizes, files needing conversion,
files whose content does not match their extension, the capture date range
camroll would assign, and optionally duplicate files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := args[0]

		// Verify folder exists and is directory
		info, err := os.Stat(folder)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("folder does not exist or is not a directory: %s", folder)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := consoleLogger()
		fs := afero.NewOsFs()
		s := &internal.Survey{
			Fs:        fs,
			Formats:   internal.NewFormats(cfg),
			Extractor: internal.NewExtractorFromConfig(fs, cfg, logger),
			Resolver:  internal.NewDateResolver(cfg, &internal.AutoDecider{}, logger),
		}

		options := &internal.SurveyOptions{
			IncludeHidden:  includeHiddenFlag,
			FindDuplicates: duplicatesFlag,
			Format:         formatFlag,
		}

		results, err := s.Run(folder, options)
		if err != nil {
			return fmt.Errorf("failed to survey folder: %w", err)
		}
		return internal.DisplaySurvey(os.Stdout, results, options)
	},
}

func init() {
	surveyCmd.Flags().StringVar(&formatFlag, "format", "table", "Output format: table, json")
	surveyCmd.Flags().BoolVar(&duplicatesFlag, "duplicates", false, "Include duplicate detection (slower)")
	surveyCmd.Flags().BoolVar(&includeHiddenFlag, "include-hidden", false, "Include hidden files and folders")

	rootCmd.AddCommand(surveyCmd)
}

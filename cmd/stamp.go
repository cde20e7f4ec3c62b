package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"camroll/internal"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var longStampFlag bool

var stampCmd = &cobra.Command{
	Use:   "stamp [folder]",
	Short: "Prefix every media file in a folder with its capture date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := args[0]

		info, err := os.Stat(folder)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("folder does not exist or is not a directory: %s", folder)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := openRunLog(cfg)
		if err != nil {
			return err
		}
		defer logger.Close()

		fs := afero.NewOsFs()
		decisions := newDecisions(cfg)
		s := &internal.Stamper{
			Fs:             fs,
			Extractor:      internal.NewExtractorFromConfig(fs, cfg, logger),
			Resolver:       internal.NewDateResolver(cfg, decisions, logger),
			Decisions:      decisions,
			Formats:        internal.NewFormats(cfg),
			Logger:         logger,
			Long:           longStampFlag,
			OriginalPrefix: cfg.OriginalPrefix,
			Interactive:    interactive(),
		}

		res, err := s.StampDir(folder)
		if res != nil {
			for _, r := range res.Renamed {
				fmt.Printf("%s -> %s\n", filepath.Base(r.From), filepath.Base(r.To))
			}
			color.Cyan("Renamed %d, skipped %d, failed %d", len(res.Renamed), len(res.Skipped), len(res.Failed))
		}
		return err
	},
}

func init() {
	stampCmd.Flags().BoolVar(&longStampFlag, "long", false, "Stamp with date and time (2006-01-02T150405)")

	rootCmd.AddCommand(stampCmd)
}

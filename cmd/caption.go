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

var captionYesFlag bool

var captionCmd = &cobra.Command{
	Use:   "caption [folder]",
	Short: "Append embedded captions to media file names",
	Long: `Read the caption a file carries in its metadata (EXIF, IPTC, XMP, QuickTime
or PNG comments) and append it to the file name. Captions that are URLs, that
would make the name too long, or that differ between tags are left alone.`,
	Args: cobra.ExactArgs(1),
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
		c := &internal.Captioner{
			Fs:        fs,
			Extractor: internal.NewExtractorFromConfig(fs, cfg, logger),
			Decisions: newDecisions(cfg),
			Formats:   internal.NewFormats(cfg),
			Logger:    logger,
			Prompt:    !captionYesFlag,
		}

		res, err := c.CaptionDir(folder)
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
	captionCmd.Flags().BoolVarP(&captionYesFlag, "yes", "y", false, "Append captions without asking")

	rootCmd.AddCommand(captionCmd)
}

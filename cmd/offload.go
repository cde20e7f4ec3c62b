package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"camroll/internal"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	deviceFlag    string
	waitFlag      bool
	noConvertFlag bool
)

var offloadCmd = &cobra.Command{
	Use:   "offload",
	Short: "Copy new captures from the mounted device into Raw_Offload/<today>",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		device := deviceFlag
		if device == "" {
			device = cfg.DeviceRoot
		}
		if device == "" {
			return fmt.Errorf("missing --device and no device_root set")
		}

		logger, err := openRunLog(cfg)
		if err != nil {
			return err
		}
		defer logger.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if waitFlag {
			fmt.Printf("Waiting for %s to appear (Ctrl-C to stop)...\n", device)
			if err := internal.WaitForPath(ctx, device); err != nil {
				return err
			}
		}

		fs := afero.NewOsFs()
		bar := progressbar.Default(-1, "offloading")
		o := &internal.Offloader{
			Source:    internal.NewDirSource(fs, device),
			Fs:        fs,
			RawRoot:   cfg.RawOffloadPath(),
			Clock:     internal.RealClock{},
			Decisions: newDecisions(cfg),
			Formats:   internal.NewFormats(cfg),
			Logger:    logger,
			OnFile:    func(string, string) { bar.Add(1) },
		}
		if !noConvertFlag {
			o.Converter = internal.NewConverterFromConfig(cfg)
			o.DeleteConverted = cfg.DeleteConverted
		}

		res, err := o.Run(ctx)
		bar.Finish()
		if res != nil {
			printOffloadSummary(res)
		}
		if err != nil {
			color.Red("Offload stopped: %v", err)
		}
		return err
	},
}

func printOffloadSummary(res *internal.OffloadResult) {
	fmt.Println()
	color.Cyan("Offloaded into %s", res.Dir)
	if res.Previous != "" {
		fmt.Printf("  Previous offload: %s (overlap folder %s)\n", res.Previous, res.Overlap)
	}
	fmt.Printf("  Copied:  %d files (%s)\n", res.Copied, humanize.Bytes(uint64(res.Bytes)))
	fmt.Printf("  Skipped: %d already offloaded\n", res.Skipped)
	if len(res.Failed) > 0 {
		color.Yellow("  Failed:  %d files", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Printf("    - %s\n", f)
		}
	}
	if len(res.Converted) > 0 || len(res.ConvertFailed) > 0 {
		fmt.Printf("  Converted: %d, conversion failed: %d\n", len(res.Converted), len(res.ConvertFailed))
	}
}

func init() {
	offloadCmd.Flags().StringVar(&deviceFlag, "device", "", "Mounted device root, e.g. the DCIM directory (default device_root)")
	offloadCmd.Flags().BoolVar(&waitFlag, "wait", false, "Wait for the device to be mounted before starting")
	offloadCmd.Flags().BoolVar(&noConvertFlag, "no-convert", false, "Do not convert legacy formats after copying")

	rootCmd.AddCommand(offloadCmd)
}

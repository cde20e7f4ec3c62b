package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"camroll/internal"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	fromFlag  string
	forceFlag bool
	moveFlag  bool
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "File the last raw offload into the dated archive",
	Long: `Walk the most recent Raw_Offload/<date> folder (or --from) in capture order
and copy every item into Organized/<YYYY>/<YYYY-MM>/ under a date-prefixed name.
Each filed item is also copied into the categorization buffer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := openRunLog(cfg)
		if err != nil {
			return err
		}
		defer logger.Close()

		res, err := runOrganize(organizeRun{
			Fs:          afero.NewOsFs(),
			Config:      cfg,
			Source:      fromFlag,
			Force:       forceFlag,
			Move:        moveFlag,
			Interactive: interactive(),
			Decisions:   newDecisions(cfg),
			Logger:      logger,
			Clock:       internal.RealClock{},
			IDs:         internal.UUIDGenerator{},
			Progress:    os.Stderr,
		})
		if res != nil {
			printOrganizeSummary(os.Stdout, res)
		}
		if err != nil {
			color.Red("Organize stopped: %v", err)
		}
		return err
	},
}

// organizeRun is everything one organize pass needs.
type organizeRun struct {
	Fs          afero.Fs
	Config      *internal.Config
	Source      string // "" means the latest raw offload
	Force       bool
	Move        bool
	Interactive bool
	Decisions   internal.DecisionProvider
	Logger      logrus.FieldLogger
	Clock       internal.Clock
	IDs         internal.IDGenerator
	Progress    io.Writer // nil disables the progress bar
}

type organizeResult struct {
	Source     string
	SessionDir string
	Stats      internal.SessionStats
	Errors     *internal.ErrorStats
	NoPrompt   []string
}

func runOrganize(r organizeRun) (*organizeResult, error) {
	cfg := r.Config
	if !r.Force {
		if err := internal.CheckBufferEmpty(r.Fs, cfg.BufferPath()); err != nil {
			return nil, fmt.Errorf("%w (categorize the previous run first or use --force)", err)
		}
	}

	source := r.Source
	if source == "" {
		latest, err := internal.LatestOffload(r.Fs, cfg.RawOffloadPath())
		if err != nil {
			return nil, err
		}
		if latest == "" {
			return nil, fmt.Errorf("no offload found in %s", cfg.RawOffloadPath())
		}
		source = latest
	}

	formats := internal.NewFormats(cfg)
	files, err := internal.ScanMediaFiles(r.Fs, source, formats)
	if err != nil {
		return nil, err
	}
	r.Logger.Infof("organizing %d files from %s", len(files), source)

	if err := r.Fs.MkdirAll(cfg.OrganizedPath(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	tree, err := internal.OpenArchiveTree(r.Fs, cfg.OrganizedPath(), internal.NewPlacer(r.Fs, r.Decisions, r.Logger), r.Logger)
	if err != nil {
		return nil, err
	}

	session, err := internal.NewSession(r.Fs, "organize", cfg.LogPath(), cfg.BufferPath(), source, r.Clock, r.IDs)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	if err := session.LogSessionStart(len(files)); err != nil {
		return nil, err
	}

	opts := internal.FilerOptionsFromConfig(cfg, r.Interactive)
	opts.Move = r.Move
	filer := internal.NewFiler(tree,
		internal.NewExtractorFromConfig(r.Fs, cfg, r.Logger),
		internal.NewDateResolver(cfg, r.Decisions, r.Logger),
		r.Decisions, session, formats, r.Logger, opts)

	var bar *progressbar.ProgressBar
	if r.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(r.Progress),
			progressbar.OptionSetDescription("organizing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	res := &organizeResult{Source: source, SessionDir: session.SessionDir, Errors: internal.NewErrorStats()}
	var runErr error
	for _, path := range files {
		out := filer.File(path)
		if bar != nil {
			bar.Add(1)
		}

		switch out.Kind {
		case internal.OutcomeFailed, internal.OutcomeFatal:
			res.Errors.Add(internal.CategorizeError(path, out.Err))
		default:
			res.Errors.ResetConsecutive()
		}

		if out.IsFatal() {
			runErr = out.Err
			break
		}
		if abort, reason := res.Errors.ShouldAbort(); abort {
			runErr = errors.New(reason)
			break
		}
	}
	if bar != nil {
		bar.Finish()
	}

	if err := session.LogSessionEnd(); err != nil && runErr == nil {
		runErr = err
	}
	res.Stats = session.GetStats()
	res.NoPrompt = filer.NoPromptMonths()
	return res, runErr
}

func printOrganizeSummary(w io.Writer, res *organizeResult) {
	s := res.Stats
	fmt.Fprintln(w)
	color.New(color.FgCyan).Fprintf(w, "Organized %s\n", res.Source)
	fmt.Fprintf(w, "  Scanned:    %d\n", s.TotalScanned)
	fmt.Fprintf(w, "  Filed:      %d (%s)\n", s.Filed, humanize.Bytes(uint64(s.Bytes)))
	fmt.Fprintf(w, "  Superseded: %d\n", s.Superseded)
	fmt.Fprintf(w, "  Duplicates: %d\n", s.Duplicates)
	fmt.Fprintf(w, "  Skipped:    %d\n", s.Skipped)
	if len(res.NoPrompt) > 0 {
		fmt.Fprintf(w, "  Months accepted without prompting: %v\n", res.NoPrompt)
	}
	fmt.Fprintf(w, "  Manifest:   %s\n", res.SessionDir)
	if res.Errors.Total > 0 {
		color.New(color.FgYellow).Fprint(w, res.Errors.GenerateReport())
	}
}

func init() {
	organizeCmd.Flags().StringVar(&fromFlag, "from", "", "Source directory (default: latest Raw_Offload/<date>)")
	organizeCmd.Flags().BoolVar(&forceFlag, "force", false, "Run even if the categorization buffer is not empty")
	organizeCmd.Flags().BoolVar(&moveFlag, "move", false, "Delete sources once filed")

	rootCmd.AddCommand(organizeCmd)
}

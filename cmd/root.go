package cmd

import (
	"os"
	"path/filepath"

	"camroll/internal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is overwritten from the embedded VERSION file at startup.
var Version = "dev"

var (
	configFlag         string
	logFlag            string
	verboseFlag        bool
	nonInteractiveFlag bool
)

var rootCmd = &cobra.Command{
	Use:          "camroll",
	Short:        "Offload a phone camera roll and file it by capture date",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ApplyVersion pushes Version into the cobra command.
func ApplyVersion() {
	rootCmd.Version = Version
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default <user config dir>/camroll/camroll.toml)")
	rootCmd.PersistentFlags().StringVar(&logFlag, "log", "", "Run log file (default <log_dir>/camroll.log)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug output in the run log")
	rootCmd.PersistentFlags().BoolVar(&nonInteractiveFlag, "non-interactive", false, "Never prompt: file times for dates, keep both on collisions")
	ApplyVersion()
}

func loadConfig() (*internal.Config, error) {
	return internal.LoadConfig(configFlag)
}

// interactive is false with --non-interactive or when stdin is not a terminal.
func interactive() bool {
	return !nonInteractiveFlag && term.IsTerminal(int(os.Stdin.Fd()))
}

func newDecisions(cfg *internal.Config) internal.DecisionProvider {
	if interactive() {
		return internal.NewConsolePrompter(os.Stdin, os.Stdout).WithViewer(cfg.ViewerCommand)
	}
	return &internal.AutoDecider{Collision: internal.CollisionKeepBoth, Yes: true}
}

func openRunLog(cfg *internal.Config) (*internal.Logger, error) {
	path := logFlag
	if path == "" {
		path = filepath.Join(cfg.LogPath(), "camroll.log")
	}
	return internal.NewLogger(path, verboseFlag)
}

// consoleLogger is for read-only commands that keep no run log.
func consoleLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	if verboseFlag {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

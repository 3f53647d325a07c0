package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dl-alexandre/drivews/internal/config"
	wserrors "github.com/dl-alexandre/drivews/internal/errors"
	"github.com/dl-alexandre/drivews/internal/logging"
	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/dl-alexandre/drivews/internal/utils"
	"github.com/dl-alexandre/drivews/pkg/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger = logging.NewNoOpLogger()
	appConfig   *config.Config
	traceID     = uuid.NewString()
)

var rootCmd = &cobra.Command{
	Use:   "drivews",
	Short: "Perforce-style workspace for a cloud drive",
	Long: `drivews keeps a local directory loosely in step with a cloud drive.

Files are synced down, edits are opened (explicitly with add, or detected
by reconcile) and submitted back. When both sides changed since the last
sync the file is conflicted and must be resolved.

All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(globalFlags.Config)
		if err != nil {
			return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
		}
		appConfig = cfg

		if err := validateGlobalFlags(cmd); err != nil {
			return err
		}

		logConfig := logging.DefaultLogConfig()
		logConfig.Level = logging.ParseLevel(cfg.LogLevel)
		logConfig.OutputFile = globalFlags.LogFile
		logConfig.EnableConsole = !globalFlags.Quiet && cfg.LogLevel != "quiet"
		logConfig.EnableColor = cfg.ColorOutput
		if globalFlags.Verbose || globalFlags.Debug {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		base, err := logging.NewLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = base.WithTraceID(traceID)
		cmd.SetContext(logging.ContextWithTraceID(cmd.Context(), traceID))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput()
		if globalFlags.OutputFormat == types.OutputFormatTable {
			fmt.Println(version.Get().String())
			return nil
		}
		return out.WriteSuccess("version", version.Get())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "", "Authentication profile to use")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Root, "root", "", "Workspace root (default: current directory)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags(cmd *cobra.Command) error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}
	if globalFlags.OutputFormat == "" {
		globalFlags.OutputFormat = appConfig.DefaultOutputFormat
	}
	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Build())
	}
	if globalFlags.Profile == "" {
		globalFlags.Profile = appConfig.DefaultProfile
	}
	if globalFlags.Root == "" {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		globalFlags.Root = root
	}
	root, err := filepath.Abs(globalFlags.Root)
	if err != nil {
		return err
	}
	globalFlags.Root = root
	return nil
}

// Execute runs the root command and returns the process exit code. SIGINT
// and SIGTERM cancel the command context; in-flight transfers are abandoned
// without touching their destinations.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	defer func() { _ = logger.Close() }()
	if err == nil {
		return utils.ExitSuccess
	}

	var reported *reportedError
	if errors.As(err, &reported) {
		return utils.GetExitCode(reported.cliErr.Code)
	}

	cliErr := wserrors.ToCLIError(err)
	if cliErr.Code == utils.ErrCodeUnknown {
		// cobra usage errors
		cliErr = utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build()
	}
	_ = newOutput().WriteError(rootCmd.Name(), cliErr)
	return utils.GetExitCode(cliErr.Code)
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

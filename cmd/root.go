package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/display"
	"dbkeeper/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	// Operation flags
	verbose bool
	quiet   bool
	logFile string

	// Display flags
	noColor      bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbkeeper",
	Short: "A CLI tool to build, store, verify and expire database backups",
	Long: `dbkeeper orchestrates backup runs end-to-end: it streams a source dump
through compression, encryption and digesting into local or cloud object
storage, tracks every artifact in a durable manifest, verifies stored
artifacts against their digests, and expires old artifacts according to
a grandfather-father-son retention policy.

Each run is guarded by a per-source lease lock so overlapping schedules
and multiple hosts cannot corrupt each other's work.

Examples:
  # Run a backup for every configured source
  dbkeeper run --config=dbkeeper.yaml

  # Back up a single source
  dbkeeper run orders-db --config=dbkeeper.yaml

  # List stored artifacts as JSON for scripting
  dbkeeper list --format=json

  # Preview what retention would expire without deleting anything
  dbkeeper retention plan orders-db

  # Restore an artifact to a file
  dbkeeper restore art-20260830-ab12cd34 --output=orders.sql`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbkeeper.yaml)")

	// Operation flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")

	// Display flags
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("display.output_format", rootCmd.PersistentFlags().Lookup("format"))

	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".dbkeeper" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dbkeeper")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("DBKEEPER")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose && !quiet {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadSystemConfig loads the full system configuration for subcommands.
// The config file flag wins over the viper search path.
func loadSystemConfig() (*backup.SystemConfig, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}

	loader := backup.NewConfigLoader(path)
	config, err := loader.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return config, nil
}

// newLogger builds the logger shared by all subcommands
func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		Format:  "text",
		LogFile: logFile,
	})
}

// newReporter builds the terminal reporter honoring --no-color
func newReporter() *display.Reporter {
	return display.NewReporter(display.NewColorSystem(noColor))
}

// validateFlags validates flags shared by all subcommands
func validateFlags() error {
	if verbose && quiet {
		return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}
	if outputFormat != "table" && outputFormat != "json" {
		return fmt.Errorf("invalid output format %q, must be table or json", outputFormat)
	}
	return nil
}

// Version information set from build flags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for dbkeeper",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbkeeper version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

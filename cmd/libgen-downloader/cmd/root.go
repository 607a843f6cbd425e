package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/config"
	"go-libgen-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logHttpFlag holds the value of the --log-http flag
var logHttpFlag bool

// downloadDirFlag holds the value of the --download-dir flag
var downloadDirFlag string

// delayFlag holds the value of the --delay flag
var delayFlag int

// httpTimeoutFlag holds the value of the --http-timeout flag
var httpTimeoutFlag int

// logLevelFlag holds the value of the --log-level flag
var logLevelFlag string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "libgen-downloader",
	Short: "A tool to discover and download books from a library catalog",
	Long: `Libgen Downloader searches a book catalog, resolves working download
mirrors, and fetches files with idempotent bookkeeping so re-running the same
queries never downloads the same entry twice.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*catalog.LoggingTransport); ok && loggingTransport != nil {
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing HTTP log file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logHttpFlag, "log-http", false, "Log HTTP requests/responses to http.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&downloadDirFlag, "download-dir", "", "Directory to save books (overrides config)")
	rootCmd.PersistentFlags().IntVar(&delayFlag, "delay", -1, "Minimum delay between requests to one origin in ms (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().IntVar(&httpTimeoutFlag, "http-timeout", -1, "Timeout for HTTP requests in seconds (overrides config, -1 uses config default)")
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up logging and the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if level, err := log.ParseLevel(logLevelFlag); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping %s", logLevelFlag, log.GetLevel())
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal: commands check the fields they need and fail with a
		// clearer message if something required is missing.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
	}

	if cmd.Flags().Changed("log-http") {
		globalConfig.LogHttpRequests = logHttpFlag
	}

	if cmd.Flags().Changed("download-dir") {
		if downloadDirFlag != "" {
			globalConfig.DownloadDir = downloadDirFlag
		} else {
			log.Warn("--download-dir flag provided but value is empty, ignoring.")
		}
	}

	if cmd.Flags().Changed("delay") {
		if delayFlag >= 0 {
			globalConfig.DelayMs = delayFlag
		} else {
			log.Warnf("--delay flag provided with invalid value %d, using config value: %d ms", delayFlag, globalConfig.DelayMs)
		}
	}

	if cmd.Flags().Changed("http-timeout") {
		if httpTimeoutFlag > 0 {
			globalConfig.HttpTimeoutSec = httpTimeoutFlag
		} else {
			log.Warnf("--http-timeout flag provided with invalid value %d, using config value: %d sec", httpTimeoutFlag, globalConfig.HttpTimeoutSec)
		}
	}

	config.ApplyDefaults(&globalConfig)

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogHttpRequests {
		logFilePath := "http.log"
		if globalConfig.DownloadDir != "" {
			if _, statErr := os.Stat(globalConfig.DownloadDir); statErr == nil {
				logFilePath = filepath.Join(globalConfig.DownloadDir, logFilePath)
			} else {
				log.Warnf("DownloadDir %q not found, saving http.log to current directory.", globalConfig.DownloadDir)
			}
		}
		log.Infof("HTTP logging to file: %s", logFilePath)

		loggingTransport, err := catalog.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize HTTP logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}

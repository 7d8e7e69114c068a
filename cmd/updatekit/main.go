package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/updatekit/internal/config"
	"github.com/breeze-rmm/updatekit/internal/logging"
)

var (
	version = "0.1.0"

	cfgFile   string
	repoURL   string
	username  string
	password  string
	reportURL string
	output    string
)

var rootCmd = &cobra.Command{
	Use:   "updatekit",
	Short: "UpdateKit workspace updater",
	Long:  `UpdateKit - resolves, downloads and applies package deltas to keep a local workspace at a chosen repository version`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("UpdateKit v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/updatekit/updatekit.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoURL, "repository", "", "repository URL (http(s), s3, file or path)")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "repository username")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "repository password")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the config file with command-line overrides and sets
// up logging.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if repoURL != "" {
		cfg.RepositoryURL = repoURL
	}
	if username != "" {
		cfg.Username = username
	}
	if password != "" {
		cfg.Password = password
	}
	if reportURL != "" {
		cfg.ReportURL = reportURL
	}
	cfg.Validate()

	logOut := os.Stderr
	if cfg.LogFile != "" {
		w, err := logging.NewRotatingWriter(cfg.LogFile, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logging.Init(cfg.LogFormat, cfg.LogLevel, w)
		return cfg
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logOut)
	return cfg
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, so a
// long-running operation unwinds at the next package boundary.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nStopping after the current package...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/config"
	"github.com/breeze-rmm/updatekit/internal/engine"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/reporting"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status <workspace>",
	Short: "Show a workspace's recorded version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		st, err := workspace.Open(args[0]).ReadState()
		if errors.Is(err, os.ErrNotExist) {
			st = workspace.LocalState{}
			err = nil
		}
		if err != nil {
			fatal(err)
		}
		emit(struct {
			Version          string `json:"version" yaml:"version"`
			UpdateInProgress bool   `json:"updateInProgress" yaml:"update_in_progress"`
		}{st.Version, st.UpdateInProgress}, func() {
			if st.Version == "" {
				fmt.Println("Version: <none>")
			} else {
				fmt.Printf("Version: %s\n", st.Version)
			}
			fmt.Printf("Update in progress: %v\n", st.UpdateInProgress)
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [version]",
	Short: "Show repository version information (latest when omitted)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := signalContext()
		defer cancel()

		var goal string
		if len(args) == 1 {
			goal = args[0]
		}
		repo, err := catalog.Open(ctx, cfg.RepositoryURL, creds(cfg))
		if err != nil {
			fatal(err)
		}
		rv, err := catalog.ResolveVersion(ctx, repo, goal)
		if err != nil {
			fatal(err)
		}
		emit(struct {
			Version     string `json:"version" yaml:"version"`
			Description string `json:"description" yaml:"description"`
		}{rv.Version, rv.Description}, func() {
			fmt.Printf("Version: %s\n", rv.Version)
			if rv.Description != "" {
				fmt.Printf("Description: %s\n", rv.Description)
			}
		})
	},
}

var (
	updateGoal   string
	updateResume bool
)

var updateCmd = &cobra.Command{
	Use:   "update <workspace>",
	Short: "Update a workspace to the goal version (latest by default)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := signalContext()
		defer cancel()

		sink := consoleSink()
		var reporter *reporting.Reporter
		if cfg.ReportURL != "" {
			reporter = reporting.New(reporting.Config{ServerURL: cfg.ReportURL, Workspace: args[0]})
			reporter.Start()
			defer reporter.Stop()
			sink = reporter.Sink(sink)
		}

		res, err := engine.Update(ctx, args[0], engine.Options{
			RepositoryURL:   cfg.RepositoryURL,
			Credentials:     creds(cfg),
			GoalVersion:     updateGoal,
			Resume:          updateResume,
			DownloadWorkers: cfg.DownloadWorkers,
			FileRetries:     cfg.FileRetries,
			SkipSpaceCheck:  cfg.SkipSpaceCheck,
			Sink:            sink,
		})
		if reporter != nil {
			reporter.Finish(err, res.Progression)
		}
		if errors.Is(err, progress.ErrCancelled) {
			fmt.Println("Update cancelled; rerun with --resume to continue.")
			os.Exit(2)
		}
		if err != nil {
			fatal(err)
		}
		fmt.Printf("\nWorkspace now at version %s (%d files applied, %d failed)\n",
			res.Version, res.Progression.AppliedFiles.End, res.Progression.FailedFiles)
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <workspace> <destination>",
	Short: "Clone a workspace into a new directory",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()
		ctx, cancel := signalContext()
		defer cancel()

		err := workspace.Open(args[0]).Clone(ctx, args[1],
			progress.CopySinkFunc(func(e error, p progress.CopyProgression) bool {
				fmt.Printf("\rCopied %d files (%d bytes, %d failed)", p.Files.End, p.Bytes.End, p.FailedFiles)
				return true
			}))
		fmt.Println()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("Workspace cloned to %s\n", args[1])
	},
}

var checkRepair bool

var checkCmd = &cobra.Command{
	Use:   "check <workspace>",
	Short: "Verify workspace content against the repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := signalContext()
		defer cancel()

		res, err := engine.Verify(ctx, args[0], engine.Options{
			RepositoryURL: cfg.RepositoryURL,
			Credentials:   creds(cfg),
			GoalVersion:   updateGoal,
			FileRetries:   cfg.FileRetries,
			Repair:        checkRepair,
			Sink: progress.SinkFunc(func(e error, p progress.GlobalProgression) bool {
				if e != nil {
					fmt.Fprintf(os.Stderr, "%v\n", e)
				}
				return true
			}),
		})
		if errors.Is(err, engine.ErrPartialDownload) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err != nil {
			fatal(err)
		}
		if res.Progression.FailedFiles > 0 {
			if checkRepair {
				fmt.Printf("Workspace at %s repaired; rerun check to confirm\n", res.Version)
				return
			}
			fmt.Printf("Workspace at %s has %d damaged files; rerun with --repair to restore them\n",
				res.Version, res.Progression.FailedFiles)
			os.Exit(1)
		}
		fmt.Printf("Workspace intact at version %s (%d files checked)\n",
			res.Version, res.Progression.AppliedFiles.End)
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateGoal, "goal", "", "goal version (default latest)")
	updateCmd.Flags().BoolVar(&updateResume, "resume", false, "resume an interrupted update toward the same goal")
	updateCmd.Flags().StringVar(&reportURL, "report-url", "", "stream progress to a WebSocket endpoint")
	checkCmd.Flags().StringVar(&updateGoal, "goal", "", "version to verify against (default recorded version)")
	checkCmd.Flags().BoolVar(&checkRepair, "repair", false, "rewrite damaged files from the repository")
}

func creds(cfg *config.Config) catalog.Credentials {
	return catalog.Credentials{Username: cfg.Username, Password: cfg.Password}
}

// consoleSink prints a one-line progress ticker to stdout.
func consoleSink() progress.Sink {
	return progress.SinkFunc(func(err error, p progress.GlobalProgression) bool {
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}
		fmt.Printf("\rPackages %d  dl %d files (%.0f B/s)  applied %d files (%.0f B/s)  failed %d",
			p.Packages.End,
			p.DownloadedFiles.End, p.DownloadedBytesPerSec,
			p.AppliedFiles.End, p.AppliedOutputBytesPerSec,
			p.FailedFiles)
		return true
	})
}

// emit renders v as json/yaml per --output, or falls back to the text
// printer.
func emit(v any, text func()) {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fatal(err)
		}
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		if err := enc.Encode(v); err != nil {
			fatal(err)
		}
	default:
		text()
	}
}

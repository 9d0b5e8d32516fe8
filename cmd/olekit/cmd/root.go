// Package cmd implements the olekit command line interface.
package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/olekit/olekit/internal/cfb"
	"github.com/olekit/olekit/internal/config"
	"github.com/olekit/olekit/internal/logging"
	concpool "github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	logFile    string
	workers    int

	cfg   *config.Config
	appFs afero.Fs = afero.NewOsFs()

	// printMu keeps per-file report blocks whole when several inputs are
	// processed concurrently.
	printMu sync.Mutex
)

var rootCmd = &cobra.Command{
	Use:           "olekit",
	Short:         "Inspect and carve OLE2 compound files",
	Long:          `olekit parses OLE2 / Compound File Binary containers (doc, xls, ppt, msi, msg) for malware triage: stream listing, sector maps, document metadata, embedded object carving and VBA macro extraction. Built for hostile input; corrupt files produce findings, not crashes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(appFs, configFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFile != "" {
			cfg.Log.File = logFile
		}
		if workers > 0 {
			cfg.Workers = workers
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logging.Setup(cfg.Log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log to a rotating file instead of stderr")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "concurrent workers for multiple inputs")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// readInput loads one input file, enforcing the configured size cap.
func readInput(path string) ([]byte, error) {
	info, err := appFs.Stat(path)
	if err != nil {
		return nil, err
	}
	if max := cfg.Limits.MaxInputBytes; max > 0 && info.Size() > max {
		return nil, fmt.Errorf("%s: %d bytes exceeds the input limit of %d", path, info.Size(), max)
	}
	return afero.ReadFile(appFs, path)
}

// openContainer reads one input file and parses it as a compound file.
func openContainer(path string) (*cfb.Container, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	c, err := cfb.Open(data,
		cfb.WithMaxDirEntries(cfg.Limits.MaxDirEntries),
		cfb.WithMaxChainLength(cfg.Limits.MaxChainLength),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// forEachInput runs fn for every input path, concurrently when there is
// more than one. The first error wins but all inputs are attempted.
func forEachInput(paths []string, fn func(path string) error) error {
	if len(paths) == 1 {
		return fn(paths[0])
	}
	pl := concpool.New().WithErrors().WithMaxGoroutines(cfg.Workers)
	for _, p := range paths {
		pl.Go(func() error { return fn(p) })
	}
	return pl.Wait()
}

// report prints one file's output block atomically.
func report(block string) {
	printMu.Lock()
	defer printMu.Unlock()
	fmt.Print(block)
}

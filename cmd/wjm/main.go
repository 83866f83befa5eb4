// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"github.com/jontk/wjm/internal/admission"
	"github.com/jontk/wjm/internal/idalloc"
	"github.com/jontk/wjm/internal/lock"
	"github.com/jontk/wjm/internal/queue"
	"github.com/jontk/wjm/internal/registry"
	"github.com/jontk/wjm/internal/resource"
	"github.com/jontk/wjm/internal/store"
	"github.com/jontk/wjm/internal/supervisor"
	"github.com/jontk/wjm/pkg/config"
	"github.com/jontk/wjm/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = ""
	Commit    = ""

	// Global flags
	configPath string
	userFlag   string
	outputFmt  string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "wjm",
		Short: "Single-workstation job scheduler",
		Long:  `wjm submits, schedules, and supervises shell-script jobs on a single workstation without a long-lived daemon.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to wjm config file (env: WJM_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "owner tag recorded on submitted jobs (default: the current user's login name)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(submitNowCmd)
	rootCmd.AddCommand(submitQueuedCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(resubmitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(docsCmd)
}

// app bundles every component the command surface dispatches into, wired
// once per process invocation the way the teacher's createClient built one
// SlurmClient per invocation.
type app struct {
	cfg        *config.Config
	store      *store.Store
	locks      *lock.Manager
	probe      *resource.Probe
	admission  *admission.Controller
	supervisor *supervisor.Supervisor
	queue      *queue.Processor
	alloc      *idalloc.Allocator
	registry   *registry.Registry
	logger     logging.Logger
	user       string
}

var (
	appOnce sync.Once
	appInst *app
	appErr  error
)

// getApp lazily builds the app context, caching it for the lifetime of the
// process since every wjm invocation is short-lived and issues exactly one
// command.
func getApp() (*app, error) {
	appOnce.Do(func() {
		appInst, appErr = buildApp()
	})
	return appInst, appErr
}

func buildApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	if os.Getenv("WJM_LOG_FORMAT") == "json" {
		logCfg.Format = logging.FormatJSON
	}
	logCfg.Version = Version
	logger := logging.NewLogger(logCfg)

	stateDir := filepath.Join(filepath.Dir(cfg.JobDir), ".scheduler_state")

	s := store.New(cfg.JobDir, cfg.QueueDir, cfg.ArchiveDir, cfg.LogDir, cfg.LogFileName, logger)
	if err := s.EnsureLayout(); err != nil {
		return nil, err
	}

	locks := lock.New(filepath.Join(stateDir, "locks"), nil)
	probe := resource.NewDefault()
	ac := admission.New(s, locks, probe, cfg)
	sup := supervisor.New(s, logger)
	qp := queue.New(s, locks, ac, sup, cfg, logger)
	sup.Drainer = qp.Drain

	reg, err := registry.New(filepath.Join(stateDir, "managed_pids.txt"), logger)
	if err != nil {
		return nil, err
	}

	owner := userFlag
	if owner == "" {
		if u, err := user.Current(); err == nil {
			owner = u.Username
		}
	}

	return &app{
		cfg:        cfg,
		store:      s,
		locks:      locks,
		probe:      probe,
		admission:  ac,
		supervisor: sup,
		queue:      qp,
		alloc:      idalloc.New(s, locks),
		registry:   reg,
		logger:     logger,
		user:       owner,
	}, nil
}

// printOutput renders data as JSON when --output=json; table rendering is
// handled per command since each data shape needs its own column layout.
func printOutput(data interface{}) error {
	if outputFmt != "json" {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

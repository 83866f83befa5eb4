// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/pkg/config"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move terminal job records into a new archive batch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		return runArchive(a)
	},
}

// runArchive moves every terminal job past ArchiveThreshold into the current
// archive batch (oldest-first), then prunes batches beyond MaxArchiveBatches.
func runArchive(a *app) error {
	jobs, err := a.store.ListJobs()
	if err != nil {
		return err
	}

	var terminal []*record.Job
	for _, j := range jobs {
		if j.Status.Terminal() {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= a.cfg.ArchiveThreshold {
		fmt.Printf("%d terminal jobs, below threshold of %d, nothing archived\n", len(terminal), a.cfg.ArchiveThreshold)
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool { return terminal[i].EndTime.Before(terminal[j].EndTime) })
	toMove := terminal[:len(terminal)-a.cfg.ArchiveThreshold]

	const maxPerBatch = 500
	moved := 0
	for _, j := range toMove {
		dst, err := a.store.ArchiveJob(j.JobID, maxPerBatch, a.cfg.LogCompressionEnabled)
		if err != nil {
			fmt.Printf("%s archive failed: %v\n", j.JobID, err)
			continue
		}
		moved++
		_ = dst
	}
	fmt.Printf("archived %d jobs\n", moved)

	return pruneArchiveBatches(a)
}

// pruneArchiveBatches deletes the oldest archive batches once the batch
// count exceeds MaxArchiveBatches.
func pruneArchiveBatches(a *app) error {
	if a.cfg.MaxArchiveBatches <= 0 {
		return nil
	}
	batches, err := a.store.ListArchivedBatches()
	if err != nil {
		return err
	}
	if len(batches) <= a.cfg.MaxArchiveBatches {
		return nil
	}
	for _, n := range batches[:len(batches)-a.cfg.MaxArchiveBatches] {
		dir := filepath.Join(a.cfg.ArchiveDir, fmt.Sprintf("%03d", n))
		if err := os.RemoveAll(dir); err != nil {
			return werrors.WrapOSError(err)
		}
		fmt.Printf("pruned archive batch %03d\n", n)
	}
	return nil
}

var cleanCmd = &cobra.Command{
	Use:   "clean failed|completed|all|old",
	Short: "Delete job records matching a terminal filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		return runClean(a, args[0])
	},
}

func runClean(a *app, filter string) error {
	jobs, err := a.store.ListJobs()
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -a.cfg.LogCleanupDays)
	removed := 0
	for _, j := range jobs {
		if !j.Status.Terminal() {
			continue
		}
		match := false
		switch filter {
		case "failed":
			match = j.Status == record.StatusFailed
		case "completed":
			match = j.Status == record.StatusCompleted
		case "all":
			match = true
		case "old":
			match = j.EndTime.Before(cutoff)
		default:
			return werrors.NewValidationError("filter", fmt.Sprintf("unrecognized clean filter %q", filter))
		}
		if !match {
			continue
		}
		if err := a.store.RemoveJobDir(j.JobID); err != nil {
			fmt.Printf("%s clean failed: %v\n", j.JobID, err)
			continue
		}
		removed++
	}
	fmt.Printf("removed %d job records\n", removed)
	return nil
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Reap orphaned processes and report stale job records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}

		result, err := a.registry.Reap(a.store)
		if err != nil {
			return err
		}
		for _, e := range result.Reaped {
			fmt.Printf("reaped %s (pid %d)\n", e.JobID, e.PID)
		}

		running, err := a.store.ListRunning()
		if err != nil {
			return err
		}
		stale := 0
		for _, j := range running {
			if j.Status != record.StatusRunning {
				continue
			}
			if _, ok, err := a.store.ReadPID(j.JobID); err == nil && !ok {
				fmt.Printf("%s RUNNING with no pid file (stale)\n", j.JobID)
				stale++
			}
		}

		fmt.Printf("reaped=%d skipped=%d stale=%d\n", len(result.Reaped), len(result.Skipped), stale)
		return nil
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration file without mutating any state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.PathFromEnv()
		}
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Printf("FAILED to load %s: %v\n", path, err)
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("FAILED validation of %s: %v\n", path, err)
			return err
		}
		fmt.Printf("OK: %s\n", path)
		return nil
	},
}

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Probe and report current system resource usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		snap, err := a.probe.Probe(context.Background())
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			return printOutput(snap)
		}

		fmt.Printf("Logical CPUs:  %d\n", snap.LogicalCPUs)
		fmt.Printf("Physical CPUs: %d\n", snap.PhysicalCPUs)
		fmt.Printf("Total Memory:  %d MB\n", snap.TotalMemory/(1024*1024))
		fmt.Printf("Free Memory:   %d MB\n", snap.FreeMemory/(1024*1024))
		if len(snap.GPUs) == 0 {
			fmt.Println("GPUs:          none discovered")
			return nil
		}
		fmt.Println("GPUs:")
		for _, g := range snap.GPUs {
			fmt.Printf("  [%d] %s  %dMB  util=%d%%\n", g.ID, g.Name, g.MemoryMB, g.UtilizationPct)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFmt == "json" {
			return printOutput(map[string]string{"version": Version, "build_time": BuildTime, "commit": Commit})
		}
		fmt.Printf("wjm %s\n", Version)
		if BuildTime != "" {
			fmt.Printf("built:  %s\n", BuildTime)
		}
		if Commit != "" {
			fmt.Printf("commit: %s\n", Commit)
		}
		return nil
	},
}

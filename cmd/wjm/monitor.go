// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/watch"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize job counts per lifecycle state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		jobs, err := a.store.ListJobs()
		if err != nil {
			return err
		}
		queued, err := a.store.ListQueueJobIDs()
		if err != nil {
			return err
		}

		counts := map[record.Status]int{}
		for _, j := range jobs {
			counts[j.Status]++
		}

		if outputFmt == "json" {
			return printOutput(map[string]interface{}{
				"counts": counts,
				"queued": len(queued),
			})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "STATUS\tCOUNT\n")
		for _, s := range []record.Status{record.StatusRunning, record.StatusPaused, record.StatusCompleted, record.StatusFailed, record.StatusKilled} {
			fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
		}
		fmt.Fprintf(w, "QUEUED\t%d\n", len(queued))
		return w.Flush()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every job record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		jobs, err := a.store.ListJobs()
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			return printOutput(jobs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "JOB_ID\tNAME\tSTATUS\tPRIORITY\tWEIGHT\tUSER\n")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", j.JobID, j.Name, j.Status, j.Priority, j.Weight, j.User)
		}
		return w.Flush()
	},
}

var infoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Show a job's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		job, err := a.store.ReadJob(args[0])
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			return printOutput(job)
		}

		fmt.Printf("JobID:        %s\n", job.JobID)
		fmt.Printf("Name:         %s\n", job.Name)
		fmt.Printf("User:         %s\n", job.User)
		fmt.Printf("Status:       %s\n", job.Status)
		fmt.Printf("Priority:     %s\n", job.Priority)
		fmt.Printf("Weight:       %d\n", job.Weight)
		fmt.Printf("GPU:          %s\n", job.GPUSpec)
		fmt.Printf("CPU:          %s\n", job.CPUSpec)
		fmt.Printf("Memory:       %s\n", job.MemorySpec)
		fmt.Printf("Timeout:      %s\n", job.TimeoutRaw)
		fmt.Printf("Dependencies: %s\n", strings.Join(job.Dependencies, ","))
		fmt.Printf("Project:      %s\n", job.Project)
		fmt.Printf("Group:        %s\n", job.Group)
		fmt.Printf("RetryCount:   %d/%d\n", job.RetryCount, job.RetryMax)
		fmt.Printf("SubmitTime:   %s\n", job.SubmitTime)
		fmt.Printf("StartTime:    %s\n", job.StartTime)
		fmt.Printf("EndTime:      %s\n", job.EndTime)
		if job.ExitCode != nil {
			fmt.Printf("ExitCode:     %d\n", *job.ExitCode)
		}
		if job.FailReason != "" {
			fmt.Printf("FailReason:   %s\n", job.FailReason)
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Show a job's stdout/stderr log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}

		tail, _ := cmd.Flags().GetInt("tail")
		head, _ := cmd.Flags().GetInt("head")
		all, _ := cmd.Flags().GetBool("all")
		follow, _ := cmd.Flags().GetBool("follow")

		path := a.store.LogPath(args[0])

		if follow {
			return followLog(path)
		}

		lines, err := readLines(path)
		if err != nil {
			return err
		}

		switch {
		case all:
			// no trimming
		case head > 0:
			if head < len(lines) {
				lines = lines[:head]
			}
		case tail > 0:
			if tail < len(lines) {
				lines = lines[len(lines)-tail:]
			}
		default:
			if len(lines) > 20 {
				lines = lines[len(lines)-20:]
			}
		}

		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().Int("tail", 0, "show the last N lines")
	logsCmd.Flags().Int("head", 0, "show the first N lines")
	logsCmd.Flags().Bool("follow", false, "follow the log as it grows")
	logsCmd.Flags().Bool("all", false, "show the entire log")
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.NewNotFoundError(path)
		}
		return nil, werrors.WrapOSError(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, nil
}

// followLog polls the log file for new content, the way tail -f does absent
// an inotify dependency the rest of the stack doesn't already pull in.
func followLog(path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	ticker := watch.DefaultPollInterval
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := os.Open(path)
		if err == nil {
			f.Seek(offset, 0)
			buf := make([]byte, 4096)
			for {
				n, readErr := f.Read(buf)
				if n > 0 {
					os.Stdout.Write(buf[:n])
					offset += int64(n)
				}
				if readErr != nil {
					break
				}
			}
			f.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ticker):
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch ID|all",
	Short: "Stream job state-change events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}

		opts := watch.Options{}
		if args[0] != "all" {
			opts.JobIDs = []string{args[0]}
		}

		p := watch.NewPoller(func(ctx context.Context) ([]*record.Job, error) {
			return a.store.ListJobs()
		}).WithPollInterval(a.cfg.WatchRefreshInterval)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for event := range p.Watch(ctx, opts) {
			switch event.EventType {
			case watch.EventNew:
				fmt.Printf("%s NEW status=%s\n", event.JobID, event.NewState)
			case watch.EventStateChange:
				fmt.Printf("%s %s -> %s\n", event.JobID, event.PreviousState, event.NewState)
			case watch.EventCompleted:
				fmt.Printf("%s COMPLETED\n", event.JobID)
			}
		}
		return nil
	},
}

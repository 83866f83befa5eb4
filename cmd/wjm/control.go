// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/jontk/wjm/internal/directive"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill ID|all",
	Short: "Terminate a running job, or every non-terminal job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		if args[0] == "all" {
			return killAll(a)
		}
		return killOne(a, args[0])
	},
}

func killOne(a *app, jobID string) error {
	if a.store.QueueEntryExists(jobID) {
		entry, _, err := a.store.ReadQueueEntry(jobID)
		if err != nil {
			return err
		}
		if entry.User != a.user {
			return werrors.NewOwnershipError(jobID, entry.User, a.user)
		}
		if err := a.store.RemoveQueueEntry(jobID); err != nil {
			return err
		}
		fmt.Printf("%s removed from queue\n", jobID)
		return nil
	}
	if err := a.supervisor.Kill(jobID, a.user); err != nil {
		return err
	}
	fmt.Printf("%s killed\n", jobID)
	return nil
}

func killAll(a *app) error {
	running, err := a.store.ListRunning()
	if err != nil {
		return err
	}
	for _, job := range running {
		if job.User != a.user {
			continue
		}
		if err := a.supervisor.Kill(job.JobID, a.user); err != nil {
			fmt.Printf("%s kill failed: %v\n", job.JobID, err)
			continue
		}
		fmt.Printf("%s killed\n", job.JobID)
	}

	queued, err := a.store.ListQueueJobIDs()
	if err != nil {
		return err
	}
	for _, jobID := range queued {
		entry, _, err := a.store.ReadQueueEntry(jobID)
		if err != nil {
			fmt.Printf("%s dequeue failed: %v\n", jobID, err)
			continue
		}
		if entry.User != a.user {
			continue
		}
		if err := a.store.RemoveQueueEntry(jobID); err != nil {
			fmt.Printf("%s dequeue failed: %v\n", jobID, err)
			continue
		}
		fmt.Printf("%s removed from queue\n", jobID)
	}
	return nil
}

var pauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Suspend a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		if err := a.supervisor.Pause(args[0], a.user); err != nil {
			return err
		}
		fmt.Printf("%s paused\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume ID",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		if err := a.supervisor.Resume(args[0], a.user); err != nil {
			return err
		}
		fmt.Printf("%s resumed\n", args[0])
		return nil
	},
}

var signalCmd = &cobra.Command{
	Use:   "signal ID SIGNAL",
	Short: "Forward a POSIX signal to a job's process",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		if err := a.supervisor.Signal(args[0], args[1], a.user); err != nil {
			return err
		}
		fmt.Printf("%s signalled %s\n", args[0], args[1])
		return nil
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit ID",
	Short: "Resubmit a terminal job using its stored script and resource spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		immediate, _ := cmd.Flags().GetBool("immediate")
		return runResubmit(args[0], immediate)
	},
}

func init() {
	resubmitCmd.Flags().Bool("immediate", false, "attempt immediate admission instead of queueing directly")
}

// runResubmit rebuilds a directive.Spec from a terminal job's stored
// command.run body and job.info fields, then re-enters the submission path
// the way a fresh submit-now/submit-queued invocation would.
func runResubmit(jobID string, immediate bool) error {
	a, err := getApp()
	if err != nil {
		return err
	}

	job, err := a.store.ReadJob(jobID)
	if err != nil {
		return err
	}
	if job.User != a.user {
		return werrors.NewOwnershipError(jobID, job.User, a.user)
	}
	if !job.Status.Terminal() {
		return werrors.New(werrors.CodeValidation, "job is not terminal").WithJobID(jobID)
	}

	body, err := a.store.ReadCommand(jobID)
	if err != nil {
		return err
	}

	spec := &directive.Spec{
		Name:              job.Name,
		Weight:            job.Weight,
		GPUSpec:           job.GPUSpec,
		CPUSpec:           job.CPUSpec,
		MemorySpec:        job.MemorySpec,
		Priority:          job.Priority,
		TimeoutRaw:        job.TimeoutRaw,
		Dependencies:      job.Dependencies,
		RetryMax:          job.RetryMax,
		RetryDelaySeconds: job.RetryDelaySeconds,
		RetryOn:           job.RetryOn,
		PreHook:           job.PreHook,
		PostHook:          job.PostHook,
		OnFail:            job.OnFail,
		OnSuccess:         job.OnSuccess,
		Project:           job.Project,
		Group:             job.Group,
		ScriptName:        job.ScriptName,
		Body:              body,
	}

	return submitOne(context.Background(), a, spec, !immediate)
}

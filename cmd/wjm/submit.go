// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jontk/wjm/internal/admission"
	"github.com/jontk/wjm/internal/array"
	"github.com/jontk/wjm/internal/directive"
	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/internal/supervisor"
	"github.com/spf13/cobra"
)

var submitNowCmd = &cobra.Command{
	Use:   "submit-now SCRIPT",
	Short: "Submit a job, running it immediately if capacity allows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(cmd, args[0], false)
	},
}

var submitQueuedCmd = &cobra.Command{
	Use:   "submit-queued SCRIPT",
	Short: "Submit a job directly to the queue, deferring admission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(cmd, args[0], true)
	},
}

func init() {
	for _, c := range []*cobra.Command{submitNowCmd, submitQueuedCmd} {
		c.Flags().String("name", "", "friendly job name")
		c.Flags().String("priority", "", "priority: urgent, high, normal, low")
		c.Flags().String("preset", "", "named preset supplying defaults")
		c.Flags().Int("weight", 0, "scheduling weight, 1-1000")
		c.Flags().String("gpu", "", "gpu spec: explicit list, auto, or auto:K")
		c.Flags().String("cpu", "", "cpu affinity: count, range, or comma list")
		c.Flags().String("memory", "", "memory cap: <num><K|M|G|T|%>")
		c.Flags().String("timeout", "", "wall-clock timeout: <num>[smhd]")
		c.Flags().Int("retry", -1, "maximum retry attempts, 0-10")
		c.Flags().String("project", "", "project tag")
		c.Flags().StringSlice("depends-on", nil, "job ids this job depends on")
		c.Flags().String("array", "", "array spec: N, a-b, or a,b,c")
	}
}

// buildOverrides translates CLI flags into a directive.Overrides, tracking
// which fields were actually set on the command line so they take
// precedence over directives and presets without clobbering unset ones.
func buildOverrides(cmd *cobra.Command) *directive.Overrides {
	o := &directive.Overrides{Set: map[string]bool{}}
	f := cmd.Flags()

	if f.Changed("name") {
		o.Name, _ = f.GetString("name")
		o.Set["name"] = true
	}
	if f.Changed("priority") {
		p, _ := f.GetString("priority")
		o.Priority = record.Priority(strings.ToLower(p))
		o.Set["priority"] = true
	}
	if f.Changed("weight") {
		o.Weight, _ = f.GetInt("weight")
		o.Set["weight"] = true
	}
	if f.Changed("gpu") {
		o.GPUSpec, _ = f.GetString("gpu")
		o.Set["gpu"] = true
	}
	if f.Changed("cpu") {
		o.CPUSpec, _ = f.GetString("cpu")
		o.Set["cpu"] = true
	}
	if f.Changed("memory") {
		o.MemorySpec, _ = f.GetString("memory")
		o.Set["memory"] = true
	}
	if f.Changed("timeout") {
		o.TimeoutRaw, _ = f.GetString("timeout")
		o.Set["timeout"] = true
	}
	if f.Changed("depends-on") {
		o.Dependencies, _ = f.GetStringSlice("depends-on")
		o.Set["depends-on"] = true
	}
	if f.Changed("retry") {
		o.RetryMax, _ = f.GetInt("retry")
		o.Set["retry"] = true
	}
	if f.Changed("project") {
		o.Project, _ = f.GetString("project")
		o.Set["project"] = true
	}
	return o
}

func runSubmit(cmd *cobra.Command, scriptPath string, forceQueue bool) error {
	a, err := getApp()
	if err != nil {
		return err
	}

	body, err := os.ReadFile(scriptPath)
	if err != nil {
		return err
	}
	scriptName := filepath.Base(scriptPath)

	presetName, _ := cmd.Flags().GetString("preset")
	overrides := buildOverrides(cmd)

	spec, err := directive.Parse(string(body), scriptName, a.cfg, presetName, overrides)
	if err != nil {
		return err
	}

	ctx := context.Background()

	arraySpec, _ := cmd.Flags().GetString("array")
	if arraySpec == "" {
		return submitOne(ctx, a, spec, forceQueue)
	}

	elements, err := array.Expand(ctx, arraySpec, spec.Body)
	if err != nil {
		return err
	}
	for _, el := range elements {
		elSpec := *spec
		elSpec.Body = el.ScriptBody
		if elSpec.Name != "" {
			elSpec.Name = fmt.Sprintf("%s_%d", elSpec.Name, el.ElementID)
		} else {
			elSpec.Name = fmt.Sprintf("%s[%d]", scriptName, el.ElementID)
		}
		if err := submitOne(ctx, a, &elSpec, forceQueue); err != nil {
			return err
		}
	}
	return nil
}

func submitOne(ctx context.Context, a *app, spec *directive.Spec, forceQueue bool) error {
	jobID, err := a.alloc.Allocate(ctx)
	if err != nil {
		return err
	}

	if forceQueue {
		if err := queueSpec(a, jobID, spec, "submitted directly to queue"); err != nil {
			return err
		}
		go a.queue.Drain(context.Background())
		return nil
	}

	decision, err := a.admission.Decide(ctx, candidateFromSpec(jobID, spec), false)
	if err != nil {
		a.store.RemoveJobDir(jobID)
		return err
	}

	if !decision.Admit {
		if err := queueSpec(a, jobID, spec, decision.Reason); err != nil {
			return err
		}
		go a.queue.Drain(context.Background())
		return nil
	}

	gpuSpec := spec.GPUSpec
	if len(decision.ResolvedGPUs) > 0 {
		gpuSpec = joinInts(decision.ResolvedGPUs)
	}

	job, err := a.supervisor.Start(ctx, supervisor.StartParams{
		JobID:             jobID,
		User:              a.user,
		Name:              spec.Name,
		ScriptBody:        spec.Body,
		ScriptName:        spec.ScriptName,
		Weight:            spec.Weight,
		GPUSpec:           gpuSpec,
		CPUSpec:           spec.CPUSpec,
		MemorySpec:        spec.MemorySpec,
		Priority:          spec.Priority,
		TimeoutRaw:        spec.TimeoutRaw,
		Dependencies:      spec.Dependencies,
		RetryMax:          spec.RetryMax,
		RetryDelaySeconds: spec.RetryDelaySeconds,
		RetryOn:           spec.RetryOn,
		PreHook:           spec.PreHook,
		PostHook:          spec.PostHook,
		OnFail:            spec.OnFail,
		OnSuccess:         spec.OnSuccess,
		Project:           spec.Project,
		Group:             spec.Group,
	})
	if err != nil {
		a.store.RemoveJobDir(jobID)
		return err
	}

	pid, _, _ := a.store.ReadPID(jobID)
	fmt.Printf("%s RUNNING pid=%d\n", job.JobID, pid)
	return printOutput(job)
}

func candidateFromSpec(jobID string, spec *directive.Spec) admission.Candidate {
	return admission.Candidate{JobID: jobID, Weight: spec.Weight, GPUSpec: spec.GPUSpec, Dependencies: spec.Dependencies}
}

func queueSpec(a *app, jobID string, spec *directive.Spec, reason string) error {
	if err := a.store.RemoveJobDir(jobID); err != nil {
		return err
	}
	entry := &record.QueueEntry{
		JobID:             jobID,
		Weight:            spec.Weight,
		GPUSpec:           spec.GPUSpec,
		CPUSpec:           spec.CPUSpec,
		MemorySpec:        spec.MemorySpec,
		Priority:          spec.Priority,
		Dependencies:      spec.Dependencies,
		SubmitTime:        time.Now(),
		Name:              spec.Name,
		QueueReason:       reason,
		User:              a.user,
		ScriptName:        spec.ScriptName,
		TimeoutRaw:        spec.TimeoutRaw,
		RetryMax:          spec.RetryMax,
		RetryDelaySeconds: spec.RetryDelaySeconds,
		RetryOn:           spec.RetryOn,
		PreHook:           spec.PreHook,
		PostHook:          spec.PostHook,
		OnFail:            spec.OnFail,
		OnSuccess:         spec.OnSuccess,
		Project:           spec.Project,
		Group:             spec.Group,
	}
	if err := a.store.WriteQueueEntry(entry, spec.Body); err != nil {
		return err
	}
	fmt.Printf("%s QUEUED (%s)\n", jobID, reason)
	return printOutput(entry)
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

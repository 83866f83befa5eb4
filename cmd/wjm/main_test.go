// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
)

func TestCLI(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd is nil")
	}

	if Version == "" {
		t.Error("Version is not set")
	}

	expectedCommands := []string{
		"submit-now", "submit-queued",
		"kill", "pause", "resume", "signal", "resubmit",
		"status", "list", "info", "logs", "watch",
		"archive", "clean", "doctor", "validate-config", "resources",
		"version",
	}
	for _, cmdName := range expectedCommands {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == cmdName {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %s not found", cmdName)
		}
	}
}

func TestPrintOutputTableModeIsNoOp(t *testing.T) {
	old := outputFmt
	outputFmt = "table"
	defer func() { outputFmt = old }()

	if err := printOutput(map[string]string{"a": "b"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

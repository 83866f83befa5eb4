// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package directive implements the Directive Parser: script header
// directive comments, preset application, and CLI flag override
// precedence, per the job-file format.
package directive

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/jontk/wjm/internal/record"
	"github.com/jontk/wjm/pkg/config"
	werrors "github.com/jontk/wjm/pkg/errors"
)

var directiveLine = regexp.MustCompile(`^#\s+([A-Z_]+):\s*(.*)$`)

// Spec is the fully resolved set of job fields after presets, directives
// and CLI overrides have all been applied, ready to hand to the Admission
// Controller.
type Spec struct {
	Name         string
	Weight       int
	GPUSpec      string
	CPUSpec      string
	MemorySpec   string
	Priority     record.Priority
	TimeoutRaw   string
	Dependencies []string

	RetryMax          int
	RetryDelaySeconds int
	RetryOn           []int

	PreHook   string
	PostHook  string
	OnFail    string
	OnSuccess string

	Project string
	Group   string

	ScriptName string
	Body       string
}

// Overrides carries CLI flag values. Presence is tracked per-field via the
// Set map: a field whose key is not set leaves the directive/preset value in
// place, whatever the field holds.
type Overrides struct {
	Name         string
	Weight       int
	GPUSpec      string
	CPUSpec      string
	MemorySpec   string
	Priority     record.Priority
	TimeoutRaw   string
	Dependencies []string
	RetryMax     int
	Project      string

	Set map[string]bool
}

func (o *Overrides) has(field string) bool {
	return o != nil && o.Set != nil && o.Set[field]
}

// Parse reads a script's directive header and returns the resolved Spec.
// preset supplies defaults applied before directives; overrides are CLI
// flags applied after directives, matching precedence: CLI > directive >
// preset > config default.
func Parse(scriptBody string, scriptName string, cfg *config.Config, presetName string, overrides *Overrides) (*Spec, error) {
	spec := &Spec{
		ScriptName: scriptName,
		Weight:     cfg.DefaultJobWeight,
		Priority:   record.Priority(cfg.DefaultJobPriority),
		GPUSpec:    record.NA,
		CPUSpec:    record.NA,
		MemorySpec: record.NA,
		TimeoutRaw: record.NA,
		RetryMax:   0,
		RetryDelaySeconds: 60,
		PreHook:    record.NA,
		PostHook:   record.NA,
		OnFail:     record.NA,
		OnSuccess:  record.NA,
		Project:    record.NA,
		Group:      record.NA,
	}

	if presetName != "" {
		preset, ok := cfg.Presets[strings.ToLower(presetName)]
		if !ok {
			return nil, werrors.NewValidationError("PRESET", "unknown preset "+presetName)
		}
		if preset.Weight != 0 {
			spec.Weight = preset.Weight
		}
		if preset.Priority != "" {
			spec.Priority = record.Priority(preset.Priority)
		}
		if preset.GPU != "" {
			spec.GPUSpec = preset.GPU
		}
	}

	body, err := applyDirectives(scriptBody, spec)
	if err != nil {
		return nil, err
	}
	spec.Body = body

	applyOverrides(spec, overrides)

	if err := validate(spec); err != nil {
		return nil, err
	}

	return spec, nil
}

// applyDirectives scans header lines until the first non-directive,
// non-empty, non-shebang comment and returns the remaining script body.
func applyDirectives(scriptBody string, spec *Spec) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(scriptBody))
	var bodyLines []string
	inHeader := true

	for scanner.Scan() {
		line := scanner.Text()

		if inHeader {
			if strings.HasPrefix(line, "#!") || strings.TrimSpace(line) == "" {
				continue
			}
			if m := directiveLine.FindStringSubmatch(line); m != nil {
				err := applyDirective(spec, m[1], strings.TrimSpace(m[2]))
				if err == nil {
					continue
				}
				if err != errUnknownDirective {
					return "", err
				}
			}
			// First non-directive line (including a bare comment or an
			// unrecognized directive name) ends the header; this line
			// belongs to the body.
			inHeader = false
		}
		bodyLines = append(bodyLines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", werrors.Wrap(werrors.CodeInternal, "scanning script header", err)
	}

	return strings.Join(bodyLines, "\n"), nil
}

// errUnknownDirective is returned by applyDirective for a directive-shaped
// line whose name is not recognized.
var errUnknownDirective = werrors.New(werrors.CodeValidation, "unrecognized directive")

func applyDirective(spec *Spec, name, value string) error {
	switch name {
	case "WEIGHT":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 1000 {
			return werrors.NewValidationError("WEIGHT", "must be a positive integer <= 1000")
		}
		spec.Weight = n
	case "GPU":
		spec.GPUSpec = value
	case "PRIORITY":
		p := record.Priority(strings.ToLower(value))
		if !record.ValidPriority(p) {
			return werrors.NewValidationError("PRIORITY", "must be one of urgent, high, normal, low")
		}
		spec.Priority = p
	case "TIMEOUT":
		if value != "" && value != record.NA {
			if _, err := ParseDuration(value); err != nil {
				return werrors.NewValidationError("TIMEOUT", "must be <num>[smhd]")
			}
		}
		spec.TimeoutRaw = value
	case "RETRY":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 10 {
			return werrors.NewValidationError("RETRY", "must be an integer in [0, 10]")
		}
		spec.RetryMax = n
	case "RETRY_DELAY":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return werrors.NewValidationError("RETRY_DELAY", "must be a non-negative integer")
		}
		spec.RetryDelaySeconds = n
	case "RETRY_ON":
		codes, err := parseRetryOn(value)
		if err != nil {
			return err
		}
		spec.RetryOn = codes
	case "CPU", "CORES":
		spec.CPUSpec = value
	case "MEMORY":
		spec.MemorySpec = value
	case "PROJECT":
		if err := validateIdentifier("PROJECT", value); err != nil {
			return err
		}
		spec.Project = value
	case "GROUP":
		if err := validateIdentifier("GROUP", value); err != nil {
			return err
		}
		spec.Group = value
	case "PRE_HOOK":
		spec.PreHook = value
	case "POST_HOOK":
		spec.PostHook = value
	case "ON_FAIL":
		spec.OnFail = value
	case "ON_SUCCESS":
		spec.OnSuccess = value
	default:
		// Unrecognized directive-shaped comment: treated as an ordinary
		// header comment, not an error; applyDirectives ends the header
		// at it and keeps it in the body.
		return errUnknownDirective
	}
	return nil
}

func parseRetryOn(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == record.NA || strings.EqualFold(value, "any") {
		return nil, nil
	}
	var codes []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, werrors.NewValidationError("RETRY_ON", "must be a comma list of exit codes")
		}
		codes = append(codes, n)
	}
	return codes, nil
}

func validateIdentifier(field, value string) error {
	if value == "" || value == record.NA {
		return nil
	}
	if len(value) > 50 {
		return werrors.NewValidationError(field, "must be <= 50 characters")
	}
	if strings.ContainsAny(value, "/=") {
		return werrors.NewValidationError(field, "must not contain '/' or '='")
	}
	for _, r := range value {
		if r < 0x20 {
			return werrors.NewValidationError(field, "must not contain control characters")
		}
	}
	return nil
}

func applyOverrides(spec *Spec, o *Overrides) {
	if o == nil {
		return
	}
	if o.has("name") {
		spec.Name = o.Name
	}
	if o.has("weight") {
		spec.Weight = o.Weight
	}
	if o.has("gpu") {
		spec.GPUSpec = o.GPUSpec
	}
	if o.has("cpu") {
		spec.CPUSpec = o.CPUSpec
	}
	if o.has("memory") {
		spec.MemorySpec = o.MemorySpec
	}
	if o.has("priority") {
		spec.Priority = o.Priority
	}
	if o.has("timeout") {
		spec.TimeoutRaw = o.TimeoutRaw
	}
	if o.has("depends-on") {
		spec.Dependencies = o.Dependencies
	}
	if o.has("retry") {
		spec.RetryMax = o.RetryMax
	}
	if o.has("project") {
		spec.Project = o.Project
	}
}

func validate(spec *Spec) error {
	if spec.Weight < 1 || spec.Weight > 1000 {
		return werrors.NewValidationError("WEIGHT", "must be in [1, 1000]")
	}
	if !record.ValidPriority(spec.Priority) {
		return werrors.NewValidationError("PRIORITY", "must be one of urgent, high, normal, low")
	}
	if spec.RetryMax < 0 || spec.RetryMax > 10 {
		return werrors.NewValidationError("RETRY", "must be in [0, 10]")
	}
	return nil
}

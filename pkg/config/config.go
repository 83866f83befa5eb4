// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the wjm KEY=VALUE configuration file.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	werrors "github.com/jontk/wjm/pkg/errors"
)

// Preset holds the defaults contributed by a PRESET_<name>_* block.
type Preset struct {
	Weight   int
	Priority string
	GPU      string
	Devices  string
}

// QueueLimits holds the per-named-queue limits contributed by a
// QUEUE_<name>_* block.
type QueueLimits struct {
	MaxJobs       int
	MaxWeight     int
	RequiresGPU   bool
	PriorityBoost int
}

// Config holds every recognized key from the wjm config file.
type Config struct {
	JobDir     string
	QueueDir   string
	ArchiveDir string
	LogDir     string

	MaxConcurrentJobs int // 0 = unlimited
	MaxTotalWeight    int // 0 = unlimited
	MaxTotalJobs      int // 0 = unlimited

	DefaultJobWeight    int
	DefaultJobPriority  string
	PriorityQueueEnabled bool

	ArchiveThreshold  int
	MaxArchiveBatches int

	LogFileName            string // must contain the literal "XXX" placeholder
	WatchRefreshInterval   time.Duration
	MaxLogSizeMB           int
	LogRotationCount       int
	LogCleanupDays         int
	LogCompressionEnabled  bool

	DependenciesEnabled bool

	Presets map[string]*Preset
	Queues  map[string]*QueueLimits

	// Unknown carries any KEY=VALUE pair this version of wjm does not
	// recognize, so a newer config file survives being read by an older
	// binary.
	Unknown map[string]string
}

// NewDefault returns the built-in defaults, matching a freshly initialized
// JOB_DIR under the user's home directory.
func NewDefault() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".wjm")

	return &Config{
		JobDir:     filepath.Join(base, "jobs"),
		QueueDir:   filepath.Join(base, "queue"),
		ArchiveDir: filepath.Join(base, "archive"),
		LogDir:     filepath.Join(base, "logs"),

		MaxConcurrentJobs: 0,
		MaxTotalWeight:    0,
		MaxTotalJobs:      0,

		DefaultJobWeight:     10,
		DefaultJobPriority:   "normal",
		PriorityQueueEnabled: true,

		ArchiveThreshold:  500,
		MaxArchiveBatches: 100,

		LogFileName:           "jobXXX.log",
		WatchRefreshInterval:  2 * time.Second,
		MaxLogSizeMB:          100,
		LogRotationCount:      5,
		LogCleanupDays:        30,
		LogCompressionEnabled: true,

		DependenciesEnabled: true,

		Presets: defaultPresets(),
		Queues:  map[string]*QueueLimits{},
		Unknown: map[string]string{},
	}
}

func defaultPresets() map[string]*Preset {
	return map[string]*Preset{
		"small":  {Weight: 5, Priority: "low"},
		"medium": {Weight: 20, Priority: "normal"},
		"large":  {Weight: 100, Priority: "normal"},
		"gpu":    {Weight: 50, Priority: "normal", GPU: "auto:1"},
		"urgent": {Weight: 20, Priority: "urgent"},
	}
}

// PathFromEnv resolves the config file path, honoring WJM_CONFIG, falling
// back to ~/.config/wjm/wjm.conf.
func PathFromEnv() string {
	if p := os.Getenv("WJM_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "wjm", "wjm.conf")
}

// Load reads a KEY=VALUE config file on top of NewDefault(). A missing file
// is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, werrors.Wrap(werrors.CodeInternal, "reading config file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cfg.apply(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, werrors.Wrap(werrors.CodeInternal, "scanning config file", err)
	}

	return cfg, nil
}

func (c *Config) apply(key, value string) {
	switch {
	case key == "JOB_DIR":
		c.JobDir = value
	case key == "QUEUE_DIR":
		c.QueueDir = value
	case key == "ARCHIVE_DIR":
		c.ArchiveDir = value
	case key == "LOG_DIR":
		c.LogDir = value
	case key == "MAX_CONCURRENT_JOBS":
		c.MaxConcurrentJobs = atoiOr(value, c.MaxConcurrentJobs)
	case key == "MAX_TOTAL_WEIGHT":
		c.MaxTotalWeight = atoiOr(value, c.MaxTotalWeight)
	case key == "MAX_TOTAL_JOBS":
		c.MaxTotalJobs = atoiOr(value, c.MaxTotalJobs)
	case key == "DEFAULT_JOB_WEIGHT":
		c.DefaultJobWeight = atoiOr(value, c.DefaultJobWeight)
	case key == "DEFAULT_JOB_PRIORITY":
		c.DefaultJobPriority = value
	case key == "PRIORITY_QUEUE_ENABLED":
		c.PriorityQueueEnabled = boolOr(value, c.PriorityQueueEnabled)
	case key == "ARCHIVE_THRESHOLD":
		c.ArchiveThreshold = atoiOr(value, c.ArchiveThreshold)
	case key == "MAX_ARCHIVE_BATCHES":
		c.MaxArchiveBatches = atoiOr(value, c.MaxArchiveBatches)
	case key == "LOG_FILE_NAME":
		c.LogFileName = value
	case key == "WATCH_REFRESH_INTERVAL":
		if d, err := time.ParseDuration(value); err == nil {
			c.WatchRefreshInterval = d
		} else if secs, err := strconv.Atoi(value); err == nil {
			c.WatchRefreshInterval = time.Duration(secs) * time.Second
		}
	case key == "MAX_LOG_SIZE_MB":
		c.MaxLogSizeMB = atoiOr(value, c.MaxLogSizeMB)
	case key == "LOG_ROTATION_COUNT":
		c.LogRotationCount = atoiOr(value, c.LogRotationCount)
	case key == "LOG_CLEANUP_DAYS":
		c.LogCleanupDays = atoiOr(value, c.LogCleanupDays)
	case key == "LOG_COMPRESSION_ENABLED":
		c.LogCompressionEnabled = boolOr(value, c.LogCompressionEnabled)
	case key == "DEPENDENCIES_ENABLED":
		c.DependenciesEnabled = boolOr(value, c.DependenciesEnabled)
	case strings.HasPrefix(key, "PRESET_"):
		c.applyPreset(key, value)
	case strings.HasPrefix(key, "QUEUE_"):
		c.applyQueue(key, value)
	default:
		c.Unknown[key] = value
	}
}

// applyPreset handles PRESET_<NAME>_WEIGHT|PRIORITY|GPU|DEVICES.
func (c *Config) applyPreset(key, value string) {
	rest := strings.TrimPrefix(key, "PRESET_")
	name, field, ok := splitLastSegment(rest, []string{"WEIGHT", "PRIORITY", "GPU", "DEVICES"})
	if !ok {
		c.Unknown[key] = value
		return
	}
	name = strings.ToLower(name)
	p, exists := c.Presets[name]
	if !exists {
		p = &Preset{}
		c.Presets[name] = p
	}
	switch field {
	case "WEIGHT":
		p.Weight = atoiOr(value, p.Weight)
	case "PRIORITY":
		p.Priority = value
	case "GPU":
		p.GPU = value
	case "DEVICES":
		p.Devices = value
	}
}

// applyQueue handles QUEUE_<NAME>_MAX_JOBS|MAX_WEIGHT|REQUIRES_GPU|PRIORITY_BOOST.
func (c *Config) applyQueue(key, value string) {
	rest := strings.TrimPrefix(key, "QUEUE_")
	name, field, ok := splitLastSegment(rest, []string{"MAX_JOBS", "MAX_WEIGHT", "REQUIRES_GPU", "PRIORITY_BOOST"})
	if !ok {
		c.Unknown[key] = value
		return
	}
	name = strings.ToLower(name)
	q, exists := c.Queues[name]
	if !exists {
		q = &QueueLimits{}
		c.Queues[name] = q
	}
	switch field {
	case "MAX_JOBS":
		q.MaxJobs = atoiOr(value, q.MaxJobs)
	case "MAX_WEIGHT":
		q.MaxWeight = atoiOr(value, q.MaxWeight)
	case "REQUIRES_GPU":
		q.RequiresGPU = boolOr(value, q.RequiresGPU)
	case "PRIORITY_BOOST":
		q.PriorityBoost = atoiOr(value, q.PriorityBoost)
	}
}

// splitLastSegment finds which of the known suffixes rest ends with and
// returns (prefix-without-suffix, suffix, true); otherwise ("", "", false).
// Suffixes are checked longest-first so MAX_WEIGHT doesn't shadow PRIORITY_BOOST et al.
func splitLastSegment(rest string, suffixes []string) (string, string, bool) {
	sorted := append([]string(nil), suffixes...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, suffix := range sorted {
		marker := "_" + suffix
		if strings.HasSuffix(rest, marker) {
			name := strings.TrimSuffix(rest, marker)
			if name != "" {
				return name, suffix, true
			}
		}
	}
	return "", "", false
}

func atoiOr(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func boolOr(value string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks that derived invariants hold: JOB_DIR, QUEUE_DIR and
// ARCHIVE_DIR must be non-empty, LOG_FILE_NAME must contain the "XXX"
// placeholder, the three capacity limits must be non-negative,
// DEFAULT_JOB_WEIGHT must be in [1, 1000] and DEFAULT_JOB_PRIORITY must be a
// known priority. LOG_DIR and the other numeric fields are not checked.
func (c *Config) Validate() error {
	if c.JobDir == "" || c.QueueDir == "" || c.ArchiveDir == "" {
		return werrors.New(werrors.CodeValidation, "JOB_DIR, QUEUE_DIR and ARCHIVE_DIR must all be set")
	}
	if !strings.Contains(c.LogFileName, "XXX") {
		return werrors.New(werrors.CodeValidation, "LOG_FILE_NAME must contain the XXX placeholder")
	}
	if c.MaxConcurrentJobs < 0 || c.MaxTotalWeight < 0 || c.MaxTotalJobs < 0 {
		return werrors.New(werrors.CodeValidation, "MAX_CONCURRENT_JOBS, MAX_TOTAL_WEIGHT and MAX_TOTAL_JOBS must be >= 0")
	}
	if c.DefaultJobWeight < 1 || c.DefaultJobWeight > 1000 {
		return werrors.New(werrors.CodeValidation, "DEFAULT_JOB_WEIGHT must be in [1, 1000]")
	}
	switch c.DefaultJobPriority {
	case "urgent", "high", "normal", "low":
	default:
		return werrors.New(werrors.CodeValidation, "DEFAULT_JOB_PRIORITY must be one of urgent, high, normal, low")
	}
	return nil
}

// EnsureDirs creates JobDir, QueueDir, ArchiveDir and LogDir if missing.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.JobDir, c.QueueDir, c.ArchiveDir, c.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return werrors.Wrap(werrors.CodeInternal, "creating wjm directory", err)
		}
	}
	return nil
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package store implements the State Store: the on-disk directory layout for
// job records, queue entries and archive batches, and the atomic
// temp-then-rename write path every component uses to mutate it.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jontk/wjm/internal/record"
	werrors "github.com/jontk/wjm/pkg/errors"
	"github.com/jontk/wjm/pkg/logging"
)

const (
	fileJobInfo    = "job.info"
	fileCommandRun = "command.run"
	filePID        = "job.pid"
	fileExitCode   = "exit.code"
)

var jobDirPattern = regexp.MustCompile(`^job_(\d+)$`)

// Store is the filesystem gateway for job records, queue entries and
// archives. It holds no in-memory cache: every read reflects the current
// on-disk state, matching the "no scheduler daemon" concurrency model.
type Store struct {
	JobDir     string
	QueueDir   string
	ArchiveDir string
	LogDir     string
	LogName    string // LOG_FILE_NAME pattern containing the XXX placeholder
	logger     logging.Logger
}

// New builds a Store rooted at the given directories. logger may be nil, in
// which case logging.NoOpLogger{} is used.
func New(jobDir, queueDir, archiveDir, logDir, logName string, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Store{
		JobDir:     jobDir,
		QueueDir:   queueDir,
		ArchiveDir: archiveDir,
		LogDir:     logDir,
		LogName:    logName,
		logger:     logger,
	}
}

// EnsureLayout creates the four top-level directories if they don't exist.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{s.JobDir, s.QueueDir, s.ArchiveDir, s.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return werrors.WrapOSError(err)
		}
	}
	return nil
}

// JobPath returns the record directory path for jobID.
func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir, jobID)
}

// CreateJobDirExclusive creates jobID's record directory with exclusive
// create semantics, returning a CodeConcurrency error if it already exists.
// This is the atomic test-and-set the ID Allocator relies on.
func (s *Store) CreateJobDirExclusive(jobID string) error {
	path := s.JobPath(jobID)
	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return werrors.New(werrors.CodeConcurrency, "job directory already exists").WithJobID(jobID)
		}
		return werrors.WrapOSError(err)
	}
	return nil
}

// RemoveJobDir deletes jobID's entire record directory, used when an
// admission refusal means the pre-created directory must be torn down
// because the queue entry is the canonical pre-start representation.
func (s *Store) RemoveJobDir(jobID string) error {
	if err := os.RemoveAll(s.JobPath(jobID)); err != nil {
		return werrors.WrapOSError(err)
	}
	return nil
}

// WriteJob serializes j and commits it via temp-then-rename.
func (s *Store) WriteJob(j *record.Job) error {
	return writeAtomic(filepath.Join(s.JobPath(j.JobID), fileJobInfo), record.Marshal(j))
}

// ReadJob reads and parses job.info for jobID.
func (s *Store) ReadJob(jobID string) (*record.Job, error) {
	data, err := os.ReadFile(filepath.Join(s.JobPath(jobID), fileJobInfo))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, werrors.NewNotFoundError(jobID)
		}
		return nil, werrors.WrapOSError(err)
	}
	j, err := record.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if j.JobID == "" {
		j.JobID = jobID
	}
	return j, nil
}

// WriteCommand stores the verbatim script body.
func (s *Store) WriteCommand(jobID, body string) error {
	return writeAtomic(filepath.Join(s.JobPath(jobID), fileCommandRun), []byte(body))
}

// ReadCommand returns the verbatim script body for jobID.
func (s *Store) ReadCommand(jobID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.JobPath(jobID), fileCommandRun))
	if err != nil {
		return "", werrors.WrapOSError(err)
	}
	return string(data), nil
}

// WritePID writes the job.pid file, present iff the job is RUNNING or PAUSED.
func (s *Store) WritePID(jobID string, pid int) error {
	return writeAtomic(filepath.Join(s.JobPath(jobID), filePID), []byte(strconv.Itoa(pid)))
}

// ReadPID reads job.pid, returning ok=false if the file is absent (which
// with status=RUNNING signals a stale record per the data model invariant).
func (s *Store) ReadPID(jobID string) (pid int, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.JobPath(jobID), filePID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, werrors.WrapOSError(err)
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil {
		return 0, false, werrors.New(werrors.CodeInternal, "corrupt job.pid file").WithJobID(jobID)
	}
	return n, true, nil
}

// RemovePID deletes job.pid; absence is not an error.
func (s *Store) RemovePID(jobID string) error {
	err := os.Remove(filepath.Join(s.JobPath(jobID), filePID))
	if err != nil && !os.IsNotExist(err) {
		return werrors.WrapOSError(err)
	}
	return nil
}

// WriteExitCode persists the terminal exit code.
func (s *Store) WriteExitCode(jobID string, code int) error {
	return writeAtomic(filepath.Join(s.JobPath(jobID), fileExitCode), []byte(strconv.Itoa(code)))
}

// ReadExitCode reads exit.code if present.
func (s *Store) ReadExitCode(jobID string) (code int, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(s.JobPath(jobID), fileExitCode))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, werrors.WrapOSError(err)
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil {
		return 0, false, werrors.New(werrors.CodeInternal, "corrupt exit.code file").WithJobID(jobID)
	}
	return n, true, nil
}

// LogPath returns the wrapper stdout+stderr log path for jobID, derived from
// the LOG_FILE_NAME pattern by substituting its XXX placeholder with the
// job's numeric suffix.
func (s *Store) LogPath(jobID string) string {
	suffix := strings.TrimPrefix(jobID, "job_")
	name := strings.Replace(s.LogName, "XXX", suffix, 1)
	return filepath.Join(s.JobPath(jobID), name)
}

// ListJobIDs returns every job_NNN directory name under JobDir, sorted by
// numeric suffix ascending.
func (s *Store) ListJobIDs() ([]string, error) {
	entries, err := os.ReadDir(s.JobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werrors.WrapOSError(err)
	}

	type idEntry struct {
		id  string
		num int
	}
	var ids []idEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := jobDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, idEntry{id: entry.Name(), num: n})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].num < ids[j].num })

	out := make([]string, len(ids))
	for i, e := range ids {
		out[i] = e.id
	}
	return out, nil
}

// MaxJobIndex returns the highest numeric suffix among existing job
// directories, or 0 if none exist. Used by the ID Allocator.
func (s *Store) MaxJobIndex() (int, error) {
	entries, err := os.ReadDir(s.JobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, werrors.WrapOSError(err)
	}

	max := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := jobDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}

// ListJobs reads every job record under JobDir. Corrupt records are skipped
// with a warning log rather than failing the whole listing.
func (s *Store) ListJobs() ([]*record.Job, error) {
	ids, err := s.ListJobIDs()
	if err != nil {
		return nil, err
	}

	jobs := make([]*record.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.ReadJob(id)
		if err != nil {
			logging.LogError(s.logger, err, "store.ListJobs", "job_id", id)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// ListRunning returns every job currently RUNNING or PAUSED.
func (s *Store) ListRunning() ([]*record.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, j := range jobs {
		if j.IsRunningOrPaused() {
			out = append(out, j)
		}
	}
	return out, nil
}

// FormatJobID renders a numeric index as the zero-padded "job_NNN" form.
func FormatJobID(n int) string {
	return fmt.Sprintf("job_%03d", n)
}

// writeAtomic writes data to path via a sibling temp file followed by
// os.Rename, so readers never observe a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return werrors.WrapOSError(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return werrors.WrapOSError(err)
	}
	return nil
}

// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jontk/wjm/internal/record"
	werrors "github.com/jontk/wjm/pkg/errors"
)

var queueScriptPattern = regexp.MustCompile(`^(job_\d+)\.run$`)

func (s *Store) queueScriptPath(jobID string) string {
	return filepath.Join(s.QueueDir, jobID+".run")
}

func (s *Store) queueSidecarPath(jobID string, ext record.SidecarExt) string {
	return filepath.Join(s.QueueDir, jobID+"."+string(ext))
}

func (s *Store) queueProcessedMarkerPath(jobID string) string {
	return filepath.Join(s.QueueDir, jobID+".run.processed")
}

// WriteQueueEntry persists a queue entry's script body and all sidecars.
func (s *Store) WriteQueueEntry(entry *record.QueueEntry, scriptBody string) error {
	if err := writeAtomic(s.queueScriptPath(entry.JobID), []byte(scriptBody)); err != nil {
		return err
	}
	for ext, value := range entry.Sidecars() {
		if err := writeAtomic(s.queueSidecarPath(entry.JobID, ext), []byte(value)); err != nil {
			return err
		}
	}
	return nil
}

// ReadQueueEntry reconstructs a queue entry (and its script body) from the
// on-disk sidecars, tolerating any sidecar being absent.
func (s *Store) ReadQueueEntry(jobID string) (*record.QueueEntry, string, error) {
	body, err := os.ReadFile(s.queueScriptPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", werrors.NewNotFoundError(jobID)
		}
		return nil, "", werrors.WrapOSError(err)
	}

	sidecars := map[record.SidecarExt]string{}
	for _, ext := range record.AllSidecarExts {
		data, err := os.ReadFile(s.queueSidecarPath(jobID, ext))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", werrors.WrapOSError(err)
		}
		sidecars[ext] = strings.TrimRight(string(data), "\n")
	}

	return record.QueueEntryFromSidecars(jobID, sidecars), string(body), nil
}

// RemoveQueueEntry deletes a queue entry's script and every sidecar. Missing
// files are not an error.
func (s *Store) RemoveQueueEntry(jobID string) error {
	paths := []string{s.queueScriptPath(jobID)}
	for _, ext := range record.AllSidecarExts {
		paths = append(paths, s.queueSidecarPath(jobID, ext))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return werrors.WrapOSError(err)
		}
	}
	return nil
}

// MarkQueueEntryProcessed drops a zero-length marker file next to the entry,
// so a crashed drain pass can tell which entries it already dispatched
// without re-reading the whole queue directory structure.
func (s *Store) MarkQueueEntryProcessed(jobID string) error {
	return writeAtomic(s.queueProcessedMarkerPath(jobID), []byte{})
}

// CleanProcessedMarkers removes .run.processed marker files older than
// maxAge (the Queue Processor calls this with 24h at the top of every
// drain).
func (s *Store) CleanProcessedMarkers(maxAge func(os.FileInfo) bool) error {
	entries, err := os.ReadDir(s.QueueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return werrors.WrapOSError(err)
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".run.processed") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if maxAge(info) {
			_ = os.Remove(filepath.Join(s.QueueDir, entry.Name()))
		}
	}
	return nil
}

// ListQueueJobIDs returns every job id with a pending queue entry, sorted
// lexically by job id (the tie-break the backfill algorithm relies on for
// submit-order fairness).
func (s *Store) ListQueueJobIDs() ([]string, error) {
	entries, err := os.ReadDir(s.QueueDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werrors.WrapOSError(err)
	}

	var ids []string
	for _, entry := range entries {
		m := queueScriptPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		ids = append(ids, m[1])
	}
	sort.Strings(ids)
	return ids, nil
}

// QueueEntryExists reports whether jobID still has a pending queue entry.
func (s *Store) QueueEntryExists(jobID string) bool {
	_, err := os.Stat(s.queueScriptPath(jobID))
	return err == nil
}

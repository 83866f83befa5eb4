// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	werrors "github.com/jontk/wjm/pkg/errors"
)

var archiveBatchPattern = regexp.MustCompile(`^(\d{3})$`)

// latestBatch returns the highest existing zero-padded batch index under
// ArchiveDir, or -1 if none exist.
func (s *Store) latestBatch() (int, error) {
	entries, err := os.ReadDir(s.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, werrors.WrapOSError(err)
	}

	max := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := archiveBatchPattern.FindStringSubmatch(entry.Name())
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

// currentBatchDir returns the batch directory jobs should be archived into,
// creating it if this is the very first archive operation. maxPerBatch
// caps how many job directories a batch may hold before a new one starts
// (MAX_ARCHIVE_BATCHES indirectly bounds how many such batches accumulate).
func (s *Store) currentBatchDir(maxPerBatch int) (string, error) {
	latest, err := s.latestBatch()
	if err != nil {
		return "", err
	}
	if latest == -1 {
		return s.newBatchDir(0)
	}

	dir := filepath.Join(s.ArchiveDir, fmt.Sprintf("%03d", latest))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", werrors.WrapOSError(err)
	}
	if len(entries) < maxPerBatch {
		return dir, nil
	}
	return s.newBatchDir(latest + 1)
}

func (s *Store) newBatchDir(index int) (string, error) {
	dir := filepath.Join(s.ArchiveDir, fmt.Sprintf("%03d", index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", werrors.WrapOSError(err)
	}
	return dir, nil
}

// ArchiveJob moves jobID's record directory into the current archive batch,
// optionally gzip-compressing its log files, then removes the source
// directory. Returns the archived job's new path.
func (s *Store) ArchiveJob(jobID string, maxPerBatch int, compressLogs bool) (string, error) {
	batchDir, err := s.currentBatchDir(maxPerBatch)
	if err != nil {
		return "", err
	}

	src := s.JobPath(jobID)
	dst := filepath.Join(batchDir, jobID)

	if err := os.Rename(src, dst); err != nil {
		return "", werrors.WrapOSError(err)
	}

	if compressLogs {
		if err := compressLogsInDir(dst); err != nil {
			return dst, err
		}
	}

	return dst, nil
}

func compressLogsInDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return werrors.WrapOSError(err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := gzipFile(path); err != nil {
			return err
		}
	}
	return nil
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return werrors.WrapOSError(err)
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.Create(outPath)
	if err != nil {
		return werrors.WrapOSError(err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(outPath)
		return werrors.WrapOSError(err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(outPath)
		return werrors.WrapOSError(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return werrors.WrapOSError(err)
	}

	return os.Remove(path)
}

// ListArchivedBatches returns every archive batch index present, ascending.
func (s *Store) ListArchivedBatches() ([]int, error) {
	entries, err := os.ReadDir(s.ArchiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werrors.WrapOSError(err)
	}
	var batches []int
	for _, entry := range entries {
		m := archiveBatchPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		batches = append(batches, n)
	}
	sort.Ints(batches)
	return batches, nil
}

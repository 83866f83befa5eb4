// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package array implements the Array/Template Factory: expansion of an
// --array spec into one independent job-submission element per index,
// each wrapping the base script to export its array identity before the
// normal submission path picks it up.
package array

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	werrors "github.com/jontk/wjm/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Element is one expanded array member: its index within the array, the
// element id used in its job name/env, and the script body wrapped to
// export its array identity.
type Element struct {
	Index      int
	ElementID  int
	ScriptBody string
}

// Expand parses spec ("N", "a-b", or "a,b,c") and returns one Element per
// member, each wrapping body to export WJM_ARRAY_INDEX/WJM_ARRAY_ID/
// WJM_ARRAY_SIZE ahead of the original script body.
func Expand(ctx context.Context, spec, body string) ([]Element, error) {
	ids, err := parseSpec(spec)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, werrors.NewValidationError("ARRAY", "must expand to at least one element")
	}

	elements := make([]Element, len(ids))
	size := len(ids)

	g, _ := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			elements[i] = Element{
				Index:      i,
				ElementID:  id,
				ScriptBody: wrap(body, i, id, size),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return elements, nil
}

// wrap prepends export lines for the array identity environment variables,
// after the shebang line if present so the interpreter directive stays
// first.
func wrap(body string, index, id, size int) string {
	exports := fmt.Sprintf(
		"export WJM_ARRAY_INDEX=%d\nexport WJM_ARRAY_ID=%d\nexport WJM_ARRAY_SIZE=%d\n",
		index, id, size,
	)

	if strings.HasPrefix(body, "#!") {
		nl := strings.IndexByte(body, '\n')
		if nl == -1 {
			return body + "\n" + exports
		}
		return body[:nl+1] + exports + body[nl+1:]
	}
	return exports + body
}

// parseSpec parses the --array grammar: a bare count N (expands to
// 0..N-1), a range "a-b", or an explicit comma list "a,b,c".
func parseSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, werrors.NewValidationError("ARRAY", "must not be empty")
	}

	if strings.Contains(spec, ",") {
		var ids []int
		for _, part := range strings.Split(spec, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, werrors.NewValidationError("ARRAY", "must be a count, range, or comma list")
			}
			ids = append(ids, n)
		}
		return ids, nil
	}

	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || lo > hi {
			return nil, werrors.NewValidationError("ARRAY", "invalid range")
		}
		ids := make([]int, 0, hi-lo+1)
		for i := lo; i <= hi; i++ {
			ids = append(ids, i)
		}
		return ids, nil
	}

	n, err := strconv.Atoi(spec)
	if err != nil || n <= 0 {
		return nil, werrors.NewValidationError("ARRAY", "must be a positive count, range, or comma list")
	}
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		ids[i] = i
	}
	return ids, nil
}

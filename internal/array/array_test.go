// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package array

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandBareCount(t *testing.T) {
	elements, err := Expand(context.Background(), "3", "echo hi")
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, 0, elements[0].ElementID)
	assert.Equal(t, 2, elements[2].ElementID)
	assert.Contains(t, elements[0].ScriptBody, "WJM_ARRAY_SIZE=3")
}

func TestExpandRange(t *testing.T) {
	elements, err := Expand(context.Background(), "5-7", "echo hi")
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, 5, elements[0].ElementID)
	assert.Equal(t, 7, elements[2].ElementID)
}

func TestExpandCommaList(t *testing.T) {
	elements, err := Expand(context.Background(), "1,4,9", "echo hi")
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, 1, elements[0].ElementID)
	assert.Equal(t, 4, elements[1].ElementID)
	assert.Equal(t, 9, elements[2].ElementID)
}

func TestExpandWrapsAfterShebang(t *testing.T) {
	elements, err := Expand(context.Background(), "1", "#!/bin/sh\necho hi")
	require.NoError(t, err)
	lines := strings.Split(elements[0].ScriptBody, "\n")
	assert.Equal(t, "#!/bin/sh", lines[0])
	assert.Contains(t, elements[0].ScriptBody, "WJM_ARRAY_INDEX=0")
	assert.True(t, strings.HasSuffix(strings.TrimRight(elements[0].ScriptBody, "\n"), "echo hi"))
}

func TestExpandInvalidSpec(t *testing.T) {
	_, err := Expand(context.Background(), "", "echo hi")
	assert.Error(t, err)

	_, err = Expand(context.Background(), "abc", "echo hi")
	assert.Error(t, err)
}
